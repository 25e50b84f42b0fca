package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/pettry/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "server.log_level",
		},
		{
			name:    "invalid log format",
			yaml:    "server:\n  log_format: xml\n",
			wantErr: "server.log_format",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "remote strategy without tts",
			yaml:    "voice:\n  strategy: remote\n",
			wantErr: "providers.tts",
		},
		{
			name:    "unknown strategy",
			yaml:    "voice:\n  strategy: telepathy\n",
			wantErr: "voice.strategy",
		},
		{
			name:    "rate too high",
			yaml:    "voice:\n  rate: 12\n",
			wantErr: "voice.rate",
		},
		{
			name:    "volume too high",
			yaml:    "voice:\n  volume: 1.5\n",
			wantErr: "voice.volume",
		},
		{
			name:    "threshold out of range",
			yaml:    "voice:\n  vad_threshold: 300\n",
			wantErr: "voice.vad_threshold",
		},
		{
			name:    "window not a power of two",
			yaml:    "voice:\n  window_size: 500\n",
			wantErr: "voice.window_size",
		},
		{
			name:    "negative duration",
			yaml:    "voice:\n  poll_interval: -1s\n",
			wantErr: "durations",
		},
		{
			name:    "temperature out of range",
			yaml:    "chat:\n  temperature: 3\n",
			wantErr: "chat.temperature",
		},
		{
			name:    "negative max messages",
			yaml:    "chat:\n  max_messages: -1\n",
			wantErr: "chat.max_messages",
		},
		{
			name:    "bad color",
			yaml:    "widget:\n  primary_color: purple\n",
			wantErr: "widget.primary_color",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_RemoteWithTTSIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  tts:
    name: remote
    base_url: http://localhost:5002
voice:
  strategy: remote
  window_size: 1024
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
voice:
  pitch: 5
widget:
  primary_color: "#zzz"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"server.log_level", "voice.pitch", "widget.primary_color"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "vision", "stt", "tts", "embeddings", "vad"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known providers for kind %q", kind)
		}
	}
}

// ─── LoadEnv ──────────────────────────────────────────────────────────────────

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("PETTRY_TEST_FROM_DOTENV=loaded\nPETTRY_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PETTRY_TEST_PRESET", "process")
	t.Setenv("PETTRY_TEST_FROM_DOTENV", "")
	os.Unsetenv("PETTRY_TEST_FROM_DOTENV")

	if err := config.LoadEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("PETTRY_TEST_FROM_DOTENV"); got != "loaded" {
		t.Errorf("PETTRY_TEST_FROM_DOTENV: got %q, want %q", got, "loaded")
	}
	if got := os.Getenv("PETTRY_TEST_PRESET"); got != "process" {
		t.Errorf("existing variable overridden: got %q", got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Voice.Strategy != config.StrategyOnDevice {
		t.Errorf("providers/voice = %+v / %+v", cfg.Providers.STT, cfg.Voice)
	}
	if cfg.Catalog.File != "configs/catalog.yaml" {
		t.Errorf("catalog.file = %q", cfg.Catalog.File)
	}
}
