// Command pettry is the Pettry shop assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/pettry/internal/app"
	"github.com/MrWong99/pettry/internal/config"
	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/internal/resilience"
	"github.com/MrWong99/pettry/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/pettry/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/pettry/pkg/provider/embeddings/openai"
	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/provider/llm/anyllm"
	llmgemini "github.com/MrWong99/pettry/pkg/provider/llm/gemini"
	llmopenai "github.com/MrWong99/pettry/pkg/provider/llm/openai"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/provider/stt/deepgram"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/pettry/pkg/provider/tts/remote"
	"github.com/MrWong99/pettry/pkg/provider/vad"
	"github.com/MrWong99/pettry/pkg/provider/vad/energy"
	"github.com/MrWong99/pettry/pkg/provider/vision"
	visiongemini "github.com/MrWong99/pettry/pkg/provider/vision/gemini"
	visionopenai "github.com/MrWong99/pettry/pkg/provider/vision/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "pettry: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pettry: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pettry: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("pettry starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, tel.Metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.MetricsHandler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath,
		func(old, new *config.Config) {
			diff := config.Diff(old, new)
			if diff.LogLevelChanged {
				level.Set(slogLevel(diff.NewLogLevel))
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			// The catalog hook reloads the file.
			diff.CatalogFileChanged = false
			application.ApplyConfig(ctx, diff, new)
		},
		config.WithCatalogHook(func(path string) {
			if err := application.ReloadCatalog(ctx, path); err != nil {
				slog.Error("catalog reload failed", "path", path, "err", err)
			}
		}),
	)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders share the same pattern: optional APIKey + optional BaseURL.
var anyLLMProviders = []string{"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return llmopenai.New(entry.APIKey, entry.Model, openAIOptions(entry)...)
	})
	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		return llmgemini.New(context.Background(), entry.APIKey, entry.Model, geminiOptions(entry)...)
	})
	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Vision ────────────────────────────────────────────────────────────────
	reg.RegisterVision("openai", func(entry config.ProviderEntry) (vision.Provider, error) {
		return visionopenai.New(entry.APIKey, entry.Model, openAIOptions(entry)...)
	})
	reg.RegisterVision("gemini", func(entry config.ProviderEntry) (vision.Provider, error) {
		return visiongemini.New(context.Background(), entry.APIKey, entry.Model, geminiOptions(entry)...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "dial_timeout"); d > 0 {
			opts = append(opts, deepgram.WithDialTimeout(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("remote", func(entry config.ProviderEntry) (tts.Provider, error) {
		return remote.New(entry.BaseURL)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return oaembed.New(entry.APIKey, entry.Model, openAIOptions(entry)...)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if tau, ok := entry.Options["smoothing"].(float64); ok {
			opts = append(opts, energy.WithSmoothing(tau))
		}
		return energy.New(opts...), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Network-backed providers are wrapped in a fallback group with circuit
// breakers, including when no fallbacks are configured.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	fcfg := resilience.FallbackConfig{Metrics: metrics}

	llmP, llmFbs, err := chain("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if llmP != nil {
		f := resilience.NewLLMFallback(llmP, cfg.Providers.LLM.Name, fcfg)
		for _, fb := range llmFbs {
			f.AddFallback(fb.Name, fb.Provider)
		}
		ps.LLM = f
	}

	visionP, visionFbs, err := chain("vision", cfg.Providers.Vision, reg.CreateVision)
	if err != nil {
		return nil, err
	}
	if visionP != nil {
		f := resilience.NewVisionFallback(visionP, cfg.Providers.Vision.Name, fcfg)
		for _, fb := range visionFbs {
			f.AddFallback(fb.Name, fb.Provider)
		}
		ps.Vision = f
	}

	sttP, sttFbs, err := chain("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if sttP != nil {
		f := resilience.NewSTTFallback(sttP, cfg.Providers.STT.Name, fcfg)
		for _, fb := range sttFbs {
			f.AddFallback(fb.Name, fb.Provider)
		}
		ps.STT = f
	}

	ttsP, ttsFbs, err := chain("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	if ttsP != nil {
		f := resilience.NewTTSFallback(ttsP, cfg.Providers.TTS.Name, fcfg)
		for _, fb := range ttsFbs {
			f.AddFallback(fb.Name, fb.Provider)
		}
		ps.TTS = f
	}

	if ps.Embeddings, _, err = chain("embeddings", cfg.Providers.Embeddings, reg.CreateEmbeddings); err != nil {
		return nil, err
	}
	if ps.VAD, _, err = chain("vad", cfg.Providers.VAD, reg.CreateVAD); err != nil {
		return nil, err
	}
	return ps, nil
}

// chain builds entry and its fallbacks. An empty or unregistered name
// yields the zero value so the slot stays unconfigured.
func chain[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, []config.NamedProvider[T], error) {
	var zero T
	if entry.Name == "" {
		slog.Info("provider not configured", "kind", kind)
		return zero, nil, nil
	}
	p, fbs, err := config.CreateChain(entry, create)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil, nil
	}
	if err != nil {
		return zero, nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model, "fallbacks", len(fbs))
	return p, fbs, nil
}

func openAIOptions(entry config.ProviderEntry) []llmopenai.Option {
	var opts []llmopenai.Option
	if entry.BaseURL != "" {
		opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
	}
	if org := optString(entry.Options, "organization"); org != "" {
		opts = append(opts, llmopenai.WithOrganization(org))
	}
	return opts
}

func geminiOptions(entry config.ProviderEntry) []llmgemini.Option {
	if entry.BaseURL == "" {
		return nil
	}
	return []llmgemini.Option{llmgemini.WithBaseURL(entry.BaseURL)}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML
// decodes integers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration string such as "5s" from a provider Options
// map. Invalid or missing values yield zero.
func optDuration(opts map[string]any, key string) time.Duration {
	d, _ := time.ParseDuration(optString(opts, key))
	return d
}
