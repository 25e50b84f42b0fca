// Package app wires all Pettry subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the stores and
// services, Run serves HTTP until the context is cancelled, and Shutdown
// ends voice sessions and releases resources in order.
//
// For testing, inject stores via functional options (WithCatalogStore,
// WithCartStore). When an option is not provided, New creates a Postgres
// store if a DSN is configured and in-memory stores otherwise.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pettry/internal/analysis"
	"github.com/MrWong99/pettry/internal/api"
	"github.com/MrWong99/pettry/internal/cart"
	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/internal/chat"
	"github.com/MrWong99/pettry/internal/config"
	"github.com/MrWong99/pettry/internal/health"
	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/internal/speech"
	"github.com/MrWong99/pettry/internal/store/postgres"
	"github.com/MrWong99/pettry/pkg/provider/embeddings"
	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/provider/vad"
	"github.com/MrWong99/pettry/pkg/provider/vision"
	"github.com/MrWong99/pettry/pkg/types"
)

// keywordBoost is the recognition bias applied to catalog product names.
const keywordBoost = 2

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	Vision     vision.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers

	catalogStore catalog.Store
	cartStore    cart.Store
	pinger       health.Pinger

	catalog  *catalog.Catalog
	carts    *cart.Service
	chat     atomic.Pointer[chat.Service]
	analysis atomic.Pointer[analysis.Service]
	speech   *speech.Service
	sessions *SessionManager

	server  config.ServerConfig
	widget  atomic.Pointer[config.WidgetConfig]
	voice   atomic.Pointer[config.VoiceConfig]
	handler http.Handler

	metrics        *observe.Metrics
	metricsHandler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalogStore injects a product store instead of creating one from config.
func WithCatalogStore(s catalog.Store) Option {
	return func(a *App) { a.catalogStore = s }
}

// WithCartStore injects a cart store instead of creating one from config.
func WithCartStore(s cart.Store) Option {
	return func(a *App) { a.cartStore = s }
}

// WithMetrics sets the instruments used by the services and the HTTP
// middleware. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Services whose
// provider is nil are left out and their routes answer 503.
//
// New connects to the store and seeds the catalog file synchronously.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{providers: providers, server: cfg.Server}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	widget, vc := cfg.Widget, cfg.Voice
	a.widget.Store(&widget)
	a.voice.Store(&vc)

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx, cfg.Store); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Catalog + carts ───────────────────────────────────────────────
	var catalogOpts []catalog.Option
	if providers.Embeddings != nil {
		catalogOpts = append(catalogOpts, catalog.WithEmbeddings(providers.Embeddings))
	}
	a.catalog = catalog.New(a.catalogStore, catalogOpts...)
	if cfg.Catalog.File != "" {
		if err := a.ReloadCatalog(ctx, cfg.Catalog.File); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: seed catalog: %w", err)
		}
	}
	a.carts = cart.NewService(a.cartStore, a.catalog)

	// ── 3. Assistant services ────────────────────────────────────────────
	a.initServices(cfg)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.buildHandler(cfg)

	slog.Info("app initialised",
		"chat", a.chat.Load() != nil,
		"analysis", a.analysis.Load() != nil,
		"speech", a.speech != nil,
		"voice", a.sessions != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores connects to Postgres when a DSN is configured, or falls back
// to in-memory stores. Injected stores are kept.
func (a *App) initStores(ctx context.Context, sc config.StoreConfig) error {
	if a.catalogStore != nil && a.cartStore != nil {
		return nil
	}
	if sc.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured, carts and products are kept in memory")
		if a.catalogStore == nil {
			a.catalogStore = catalog.NewMemStore()
		}
		if a.cartStore == nil {
			a.cartStore = cart.NewMemStore()
		}
		return nil
	}

	store, err := postgres.NewStore(ctx, sc.PostgresDSN, sc.EmbeddingDimensions)
	if err != nil {
		return err
	}
	if a.catalogStore == nil {
		a.catalogStore = store
	}
	if a.cartStore == nil {
		a.cartStore = store
	}
	a.pinger = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initServices builds the services whose providers are configured.
func (a *App) initServices(cfg *config.Config) {
	if a.providers.LLM != nil {
		a.chat.Store(a.newChat(cfg.Chat))
	}
	if a.providers.Vision != nil {
		a.analysis.Store(a.newAnalysis(cfg.Analysis))
	}
	if a.providers.TTS != nil {
		a.speech = speech.New(a.providers.TTS,
			speech.WithDefaultVoice(cfg.Voice.VoiceID),
			speech.WithMaxChars(cfg.Speech.MaxChars),
			speech.WithMetrics(a.metrics),
		)
	}
	if a.providers.STT != nil && a.providers.LLM != nil {
		a.sessions = NewSessionManager(SessionManagerConfig{
			Voice:        func() config.VoiceConfig { return *a.voice.Load() },
			STT:          a.providers.STT,
			TTS:          a.providers.TTS,
			VAD:          a.providers.VAD,
			NewResponder: a.newResponder,
			Keywords:     a.keywords,
			Metrics:      a.metrics,
		})
	}
}

func (a *App) newChat(cc config.ChatConfig) *chat.Service {
	return chat.New(a.providers.LLM, a.catalog, chat.Config{
		MaxMessages:         cc.MaxMessages,
		MaxMessageChars:     cc.MaxMessageChars,
		MaxPetAnalysisChars: cc.MaxPetAnalysisChars,
		MaxRecommendations:  cc.MaxRecommendations,
		Temperature:         cc.Temperature,
		MaxOutputTokens:     cc.MaxOutputTokens,
		FallbackReply:       cc.FallbackReply,
	}, chat.WithMetrics(a.metrics))
}

func (a *App) newAnalysis(ac config.AnalysisConfig) *analysis.Service {
	return analysis.New(a.providers.Vision, analysis.Config{
		MaxImageChars: ac.MaxImageBytes,
		Fallback:      ac.FallbackAnalysis,
		MaxTokens:     ac.MaxOutputTokens,
	}, analysis.WithMetrics(a.metrics))
}

func (a *App) newResponder(petAnalysis string) Responder {
	return a.chat.Load().Responder(petAnalysis, nil)
}

// keywords biases recognition towards the names of catalog products.
func (a *App) keywords(ctx context.Context) []types.KeywordBoost {
	products, err := a.catalog.List(ctx)
	if err != nil {
		slog.Warn("cannot list products for recognition keywords", "err", err)
		return nil
	}
	out := make([]types.KeywordBoost, len(products))
	for i, p := range products {
		out[i] = types.KeywordBoost{Keyword: p.Name, Boost: keywordBoost}
	}
	return out
}

func (a *App) buildHandler(cfg *config.Config) http.Handler {
	checkers := []health.Checker{
		health.Configured("llm", func() bool { return a.providers.LLM != nil }),
		health.Configured("vision", func() bool { return a.providers.Vision != nil }),
	}
	if a.pinger != nil {
		checkers = append(checkers, health.Ping("postgres", a.pinger))
	}

	deps := api.Deps{
		Catalog: a.catalog,
		Carts:   a.carts,
		Widget:  func() config.WidgetConfig { return *a.widget.Load() },
	}
	if a.chat.Load() != nil {
		deps.Chat = chatProxy{a}
	}
	if a.analysis.Load() != nil {
		deps.Analysis = analysisProxy{a}
	}
	if a.speech != nil {
		deps.Speech = a.speech
	}
	if a.sessions != nil {
		deps.Voice = a.sessions
	}

	srv := api.NewServer(deps, api.Options{
		CORSOrigins:     cfg.Server.CORSOrigins,
		Metrics:         a.metrics,
		MetricsHandler:  a.metricsHandler,
		Health:          health.New(checkers...),
		InputSampleRate: cfg.Voice.InputSampleRate,
	})
	return srv.Handler()
}

// chatProxy resolves the chat service on every call so reloaded settings
// apply to the next request.
type chatProxy struct{ a *App }

func (p chatProxy) Reply(ctx context.Context, req chat.Request) (chat.Response, error) {
	return p.a.chat.Load().Reply(ctx, req)
}

type analysisProxy struct{ a *App }

func (p analysisProxy) Analyze(ctx context.Context, imageData string) (analysis.Result, error) {
	return p.a.analysis.Load().Analyze(ctx, imageData)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the voice session manager, or nil when voice is not
// configured.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ReloadCatalog seeds the products listed in the YAML file at path.
// Products missing from the file are kept.
func (a *App) ReloadCatalog(ctx context.Context, path string) error {
	products, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	if err := a.catalog.Seed(ctx, products); err != nil {
		return err
	}
	slog.Info("catalog loaded", "path", path, "products", len(products))
	return nil
}

// ApplyConfig applies the hot-reloadable parts of a changed config.
// Sections listed in diff.RestartRequired are only logged.
func (a *App) ApplyConfig(ctx context.Context, diff config.ConfigDiff, cfg *config.Config) {
	if diff.WidgetChanged {
		widget := cfg.Widget
		a.widget.Store(&widget)
		slog.Info("widget settings reloaded")
	}
	if diff.VoiceChanged {
		vc := cfg.Voice
		a.voice.Store(&vc)
		slog.Info("voice settings reloaded, applies to new sessions")
	}
	if diff.ChatChanged && a.chat.Load() != nil {
		a.chat.Store(a.newChat(cfg.Chat))
		slog.Info("chat settings reloaded")
	}
	if diff.AnalysisChanged && a.analysis.Load() != nil {
		a.analysis.Store(a.newAnalysis(cfg.Analysis))
		slog.Info("analysis settings reloaded")
	}
	if diff.CatalogFileChanged && cfg.Catalog.File != "" {
		if err := a.ReloadCatalog(ctx, cfg.Catalog.File); err != nil {
			slog.Error("catalog reload failed", "path", cfg.Catalog.File, "err", err)
		}
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", diff.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled. It then stops accepting requests and waits up to the shutdown
// timeout for in-flight ones. Run returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.server.ListenAddr,
		Handler: a.handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", a.server.TLS != nil)
		var err error
		if tls := a.server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.server.ShutdownTimeout)
		defer cancel()
		// Hijacked voice connections are not tracked by the server.
		if a.sessions != nil {
			if err := a.sessions.Stop(sctx); err != nil {
				slog.Warn("voice sessions did not stop in time", "err", err)
			}
		}
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends voice sessions and tears down all subsystems in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.sessions != nil {
			if err := a.sessions.Stop(ctx); err != nil {
				shutdownErr = err
				return
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases resources acquired by a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
