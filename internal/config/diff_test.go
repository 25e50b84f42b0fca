package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/pettry/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		Catalog: config.CatalogConfig{File: "catalog.yaml"},
		Voice:   config.VoiceConfig{PreferredVoices: []string{"Samantha"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.HasChanges() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug },
		},
		{
			name:   "widget color",
			mutate: func(c *config.Config) { c.Widget.PrimaryColor = "#000" },
			check:  func(d config.ConfigDiff) bool { return d.WidgetChanged },
		},
		{
			name: "widget voice toggle",
			mutate: func(c *config.Config) {
				off := false
				c.Widget.EnableVoice = &off
			},
			check: func(d config.ConfigDiff) bool { return d.WidgetChanged },
		},
		{
			name:   "catalog file",
			mutate: func(c *config.Config) { c.Catalog.File = "other.yaml" },
			check:  func(d config.ConfigDiff) bool { return d.CatalogFileChanged },
		},
		{
			name:   "chat",
			mutate: func(c *config.Config) { c.Chat.MaxRecommendations = 3 },
			check:  func(d config.ConfigDiff) bool { return d.ChatChanged },
		},
		{
			name:   "analysis",
			mutate: func(c *config.Config) { c.Analysis.FallbackAnalysis = "cute" },
			check:  func(d config.ConfigDiff) bool { return d.AnalysisChanged },
		},
		{
			name:   "voice",
			mutate: func(c *config.Config) { c.Voice.PreferredVoices = []string{"Alex"} },
			check:  func(d config.ConfigDiff) bool { return d.VoiceChanged },
		},
		{
			name:   "providers need restart",
			mutate: func(c *config.Config) { c.Providers.LLM.Model = "gpt-4o" },
			check:  func(d config.ConfigDiff) bool { return slices.Contains(d.RestartRequired, "providers") },
		},
		{
			name:   "listen addr needs restart",
			mutate: func(c *config.Config) { c.Server.ListenAddr = ":1" },
			check:  func(d config.ConfigDiff) bool { return slices.Contains(d.RestartRequired, "server") },
		},
		{
			name:   "store needs restart",
			mutate: func(c *config.Config) { c.Store.PostgresDSN = "postgres://x" },
			check:  func(d config.ConfigDiff) bool { return slices.Contains(d.RestartRequired, "store") },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tc.mutate(next)
			d := config.Diff(baseConfig(), next)
			if !tc.check(d) {
				t.Errorf("unexpected diff: %+v", d)
			}
		})
	}
}

func TestDiff_DefaultVoiceToggleIsUnchanged(t *testing.T) {
	t.Parallel()
	next := baseConfig()
	on := true
	next.Widget.EnableVoice = &on
	if d := config.Diff(baseConfig(), next); d.WidgetChanged {
		t.Error("explicit true should equal the default")
	}
}
