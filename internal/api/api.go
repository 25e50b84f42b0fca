// Package api serves Pettry's REST and WebSocket surface.
//
// Every JSON error body has the form {"error": "..."} where the message is
// safe to show to shoppers. The HTTP status is derived from the error's
// [fault.Kind].
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/pettry/internal/analysis"
	"github.com/MrWong99/pettry/internal/cart"
	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/internal/chat"
	"github.com/MrWong99/pettry/internal/config"
	"github.com/MrWong99/pettry/internal/health"
	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/internal/resilience"
	"github.com/MrWong99/pettry/pkg/audio/wsaudio"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/types"
)

// Body size limits.
const (
	maxBodyBytes  = 1 << 20
	maxImageBytes = 12 << 20
)

// Chatter answers chat requests. *chat.Service satisfies it.
type Chatter interface {
	Reply(ctx context.Context, req chat.Request) (chat.Response, error)
}

// Analyzer describes pet photos. *analysis.Service satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, imageData string) (analysis.Result, error)
}

// Speaker synthesizes speech. *speech.Service satisfies it.
type Speaker interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
	Voices(ctx context.Context) ([]types.VoiceProfile, error)
}

// Catalog is the product catalog. *catalog.Catalog satisfies it.
type Catalog interface {
	List(ctx context.Context) ([]catalog.Product, error)
	Product(ctx context.Context, id string) (catalog.Product, error)
	Search(ctx context.Context, query string, limit int) ([]catalog.Product, error)
	Lookup(ctx context.Context, spoken string) (catalog.Product, bool, error)
}

// Carts manages shopping carts. *cart.Service satisfies it.
type Carts interface {
	AddItem(ctx context.Context, sessionID, productID string, quantity int) (cart.Item, error)
	Items(ctx context.Context, sessionID string) ([]cart.Item, error)
	Clear(ctx context.Context, sessionID string) error
	Checkout(ctx context.Context, sessionID string) (cart.Order, error)
}

// VoiceRequest describes a browser voice connection.
type VoiceRequest struct {
	// SessionID is the shopping session, if the widget has one.
	SessionID string

	// PetAnalysis seeds the conversation with the analysed pet photo.
	PetAnalysis string
}

// VoiceServer runs one browser voice session. ServeVoice blocks until the
// session ends and must call conn.Run.
type VoiceServer interface {
	ServeVoice(ctx context.Context, conn *wsaudio.Conn, req VoiceRequest) error
}

// Deps are the services behind the API. Routes of a nil service answer
// 503; Catalog, Carts and Widget are required.
type Deps struct {
	Catalog Catalog
	Carts   Carts

	Chat     Chatter
	Analysis Analyzer
	Speech   Speaker
	Voice    VoiceServer

	// Widget returns the current widget settings. It is called on every
	// request so reloaded settings apply immediately.
	Widget func() config.WidgetConfig

	// NewSessionID defaults to a random UUID.
	NewSessionID func() string
}

// Options tune the HTTP layer.
type Options struct {
	// CORSOrigins defaults to "*".
	CORSOrigins []string

	// Metrics enables request instrumentation.
	Metrics *observe.Metrics

	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler

	// Health is mounted on /healthz and /readyz when set.
	Health *health.Handler

	// InputSampleRate is the default microphone rate of voice connections.
	InputSampleRate int
}

// Server routes API requests to the services.
type Server struct {
	deps Deps
	opts Options
	mux  *http.ServeMux
}

// NewServer creates a [Server].
func NewServer(deps Deps, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if deps.NewSessionID == nil {
		deps.NewSessionID = newSessionID
	}
	s := &Server{deps: deps, opts: opts, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/speech", s.handleSpeech)
	s.mux.HandleFunc("GET /api/speech/voices", s.handleVoices)
	s.mux.HandleFunc("GET /api/products", s.handleProducts)
	s.mux.HandleFunc("GET /api/products/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/products/{id}", s.handleProduct)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("POST /api/cart/{session}/items", s.handleAddItem)
	s.mux.HandleFunc("GET /api/cart/{session}/items", s.handleListItems)
	s.mux.HandleFunc("DELETE /api/cart/{session}/items", s.handleClearItems)
	s.mux.HandleFunc("POST /api/cart/{session}/checkout", s.handleCheckout)
	s.mux.HandleFunc("GET /api/widget", s.handleWidget)
	s.mux.HandleFunc("GET /api/voice", s.handleVoice)

	if s.opts.Health != nil {
		s.opts.Health.Register(s.mux)
	}
	if s.opts.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", s.opts.MetricsHandler)
	}
}

// Handler returns the routed handler wrapped in CORS and, when metrics are
// configured, request instrumentation.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = cors(s.opts.CORSOrigins)(h)
	if s.opts.Metrics != nil {
		h = observe.Middleware(s.opts.Metrics)(h)
	}
	return h
}

// cors answers preflight requests and sets the allow headers for permitted
// origins.
func cors(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowed := allowOrigin(origins, origin); allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "86400")
				if allowed != "*" {
					h.Add("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not permitted.
func allowOrigin(origins []string, origin string) string {
	for _, o := range origins {
		switch {
		case o == "*" && origin == "":
			return "*"
		case o == "*", strings.EqualFold(o, origin):
			return origin
		}
	}
	return ""
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.Permission:
		return http.StatusForbidden
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Transient:
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrAllFailed) ||
			errors.Is(err, errUnavailable) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	if errors.Is(err, catalog.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError logs err and answers with its status and user message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := fault.Message(err)
	if status == http.StatusNotFound && fault.KindOf(err) == fault.Internal {
		msg = "not found"
	}
	level := slog.LevelDebug
	if status >= 500 {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "api: request failed",
		"method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}

// decode reads a JSON body of at most limit bytes into v.
func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooLarge):
		return fault.Wrap(fault.Validation, "Request body too large.", err)
	case errors.Is(err, io.EOF):
		return fault.Wrap(fault.Validation, "Request body is required.", err)
	}
	return fault.Wrap(fault.Validation, "Request body is not valid JSON.", err)
}

// errUnavailable marks routes whose optional service is not configured.
var errUnavailable = errors.New("api: service not configured")

func unavailable(what string) error {
	return fault.Wrap(fault.Transient, what+" is not available.", errUnavailable)
}
