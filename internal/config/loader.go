package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/bits"
	"os"
	"regexp"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"vision":     {"openai", "gemini"},
	"stt":        {"deepgram"},
	"tts":        {"elevenlabs", "remote"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"energy"},
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// LoadEnv loads KEY=value pairs from files into the process environment
// without overriding variables that are already set. Missing files are
// skipped so a default ".env" is optional.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("env file not found, skipping", "path", f)
				continue
			}
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
		slog.Debug("env file loaded", "path", f)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// from the environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), func(key string) string {
		// "$$" stays a literal dollar sign.
		if key == "$" {
			return "$"
		}
		return os.Getenv(key)
	})

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderEntry("llm", cfg.Providers.LLM)
	validateProviderEntry("vision", cfg.Providers.Vision)
	validateProviderEntry("stt", cfg.Providers.STT)
	validateProviderEntry("tts", cfg.Providers.TTS)
	validateProviderEntry("embeddings", cfg.Providers.Embeddings)
	validateProviderEntry("vad", cfg.Providers.VAD)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; chat will not be able to answer")
	}
	if cfg.Providers.Vision.Name == "" {
		slog.Warn("no vision provider configured; pet photo analysis is disabled")
	}
	if cfg.Voice.Strategy == StrategyRemote && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("voice.strategy remote requires providers.tts"))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; carts and orders are kept in memory only")
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must be positive", cfg.Store.EmbeddingDimensions))
	}

	// Chat
	if cfg.Chat.MaxMessages < 0 {
		errs = append(errs, fmt.Errorf("chat.max_messages %d must not be negative", cfg.Chat.MaxMessages))
	}
	if cfg.Chat.MaxMessageChars < 0 {
		errs = append(errs, fmt.Errorf("chat.max_message_chars %d must not be negative", cfg.Chat.MaxMessageChars))
	}
	if cfg.Chat.MaxRecommendations < 0 {
		errs = append(errs, fmt.Errorf("chat.max_recommendations %d must not be negative", cfg.Chat.MaxRecommendations))
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}

	// Analysis
	if cfg.Analysis.MaxImageBytes < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_image_bytes %d must not be negative", cfg.Analysis.MaxImageBytes))
	}

	// Voice
	v := cfg.Voice
	if v.Strategy != "" && !v.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("voice.strategy %q is invalid; valid values: ondevice, remote", v.Strategy))
	}
	if v.Rate != 0 && (v.Rate < 0.1 || v.Rate > 10) {
		errs = append(errs, fmt.Errorf("voice.rate %.2f is out of range [0.1, 10]", v.Rate))
	}
	if v.Pitch < 0 || v.Pitch > 2 {
		errs = append(errs, fmt.Errorf("voice.pitch %.2f is out of range [0, 2]", v.Pitch))
	}
	if v.Volume < 0 || v.Volume > 1 {
		errs = append(errs, fmt.Errorf("voice.volume %.2f is out of range [0, 1]", v.Volume))
	}
	if v.VADThreshold < 0 || v.VADThreshold > 255 {
		errs = append(errs, fmt.Errorf("voice.vad_threshold %.1f is out of range [0, 255]", v.VADThreshold))
	}
	if v.WindowSize != 0 && (v.WindowSize < 32 || bits.OnesCount(uint(v.WindowSize)) != 1) {
		errs = append(errs, fmt.Errorf("voice.window_size %d must be a power of two >= 32", v.WindowSize))
	}
	if v.PollInterval < 0 || v.RemoteTimeout < 0 || v.RestartDelay < 0 || v.StartTimeout < 0 {
		errs = append(errs, errors.New("voice durations must not be negative"))
	}

	// Widget
	if c := cfg.Widget.PrimaryColor; c != "" && !hexColor.MatchString(c) {
		errs = append(errs, fmt.Errorf("widget.primary_color %q is not a hex color", c))
	}

	return errors.Join(errs...)
}

// validateProviderEntry logs a warning if the entry or one of its fallbacks
// names a provider not found in [ValidProviderNames] for kind.
func validateProviderEntry(kind string, e ProviderEntry) {
	validateProviderName(kind, e.Name)
	for _, fb := range e.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
