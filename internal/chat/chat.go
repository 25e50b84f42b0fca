// Package chat is Pettry's conversational shopping assistant. It validates
// a conversation, builds the Pettry system prompt around the pet analysis
// and the product catalog, asks an LLM for the next reply and picks out the
// products that reply recommends.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/pettry/internal/analysis"
	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/types"
)

// Defaults for [Config].
const (
	DefaultMaxMessages         = 50
	DefaultMaxMessageChars     = 5000
	DefaultMaxPetAnalysisChars = 2000
	DefaultMaxRecommendations  = 3
	DefaultTemperature         = 0.9
	DefaultMaxOutputTokens     = 200
	DefaultFallbackReply       = "Sorry, I had trouble responding."
)

// Config tunes a Service. Zero fields take the defaults.
type Config struct {
	MaxMessages         int
	MaxMessageChars     int
	MaxPetAnalysisChars int
	MaxRecommendations  int
	Temperature         float64
	MaxOutputTokens     int
	FallbackReply       string
}

func (c Config) withDefaults() Config {
	if c.MaxMessages <= 0 {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.MaxMessageChars <= 0 {
		c.MaxMessageChars = DefaultMaxMessageChars
	}
	if c.MaxPetAnalysisChars <= 0 {
		c.MaxPetAnalysisChars = DefaultMaxPetAnalysisChars
	}
	if c.MaxRecommendations <= 0 {
		c.MaxRecommendations = DefaultMaxRecommendations
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.FallbackReply == "" {
		c.FallbackReply = DefaultFallbackReply
	}
	return c
}

// Message is one chat turn as sent by the client.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat call.
type Request struct {
	Messages    []Message            `json:"messages"`
	PetAnalysis string               `json:"petAnalysis,omitempty"`
	PetProfile  *analysis.PetProfile `json:"petProfile,omitempty"`
}

// Response carries the assistant's reply and the products it mentions.
type Response struct {
	Reply               string            `json:"reply"`
	RecommendedProducts []catalog.Product `json:"recommendedProducts"`
}

// Products lists the catalog. *catalog.Catalog satisfies it.
type Products interface {
	List(ctx context.Context) ([]catalog.Product, error)
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records chat latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service answers chat requests.
type Service struct {
	llm      llm.Provider
	products Products
	cfg      Config
	metrics  *observe.Metrics
}

// New returns a Service.
func New(provider llm.Provider, products Products, cfg Config, opts ...Option) *Service {
	s := &Service{llm: provider, products: products, cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// invalid is one validation problem: err is logged, msg is shown to the
// user.
type invalid struct {
	err error
	msg string
}

// Validate checks req against the limits in cfg. All problems are joined
// into one [fault.Validation] error whose message is that of the first.
func Validate(req Request, cfg Config) error {
	cfg = cfg.withDefaults()
	var problems []invalid
	add := func(msg string, err error) { problems = append(problems, invalid{err: err, msg: msg}) }

	switch n := len(req.Messages); {
	case n == 0:
		add("At least one message is required.", errors.New("chat: no messages"))
	case n > cfg.MaxMessages:
		// Per-message checks are pointless on an oversized history.
		return fault.Wrap(fault.Validation,
			fmt.Sprintf("Too many messages. Maximum is %d.", cfg.MaxMessages),
			fmt.Errorf("chat: %d messages exceed the limit of %d", n, cfg.MaxMessages))
	}
	for i, m := range req.Messages {
		switch {
		case m.Role != types.RoleUser && m.Role != types.RoleAssistant:
			add(fmt.Sprintf("Invalid message format: message %d has role %q.", i, m.Role),
				fmt.Errorf("chat: message %d has role %q", i, m.Role))
		case strings.TrimSpace(m.Content) == "":
			add(fmt.Sprintf("Invalid message format: message %d is empty.", i),
				fmt.Errorf("chat: message %d is empty", i))
		case len([]rune(m.Content)) > cfg.MaxMessageChars:
			add(fmt.Sprintf("Message too long. Maximum is %d characters.", cfg.MaxMessageChars),
				fmt.Errorf("chat: message %d has %d characters, limit %d", i, len([]rune(m.Content)), cfg.MaxMessageChars))
		}
	}
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role != types.RoleUser {
		add("The last message must be from the user.",
			fmt.Errorf("chat: last message has role %q", req.Messages[n-1].Role))
	}
	if n := len([]rune(req.PetAnalysis)); n > cfg.MaxPetAnalysisChars {
		add("Invalid pet analysis data.",
			fmt.Errorf("chat: pet analysis has %d characters, limit %d", n, cfg.MaxPetAnalysisChars))
	}
	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = p.err
	}
	return fault.Wrap(fault.Validation, problems[0].msg, errors.Join(errs...))
}

// Reply validates req, asks the LLM for Pettry's next message and returns
// it with up to MaxRecommendations catalog products it names. Nothing is
// sent to the LLM when validation fails.
func (s *Service) Reply(ctx context.Context, req Request) (resp Response, err error) {
	if err := Validate(req, s.cfg); err != nil {
		return Response{}, err
	}

	ctx, span := observe.StartSpan(ctx, "chat.reply")
	start := time.Now()
	defer func() {
		observe.EndSpan(span, err)
		if s.metrics != nil {
			observe.RecordDuration(ctx, s.metrics.ChatDuration, start, err)
		}
	}()

	products, err := s.products.List(ctx)
	if err != nil {
		observe.Logger(ctx).Warn("chat: catalog unavailable, replying without products", "err", err)
		products = nil
	}

	history := make([]types.Message, len(req.Messages))
	for i, m := range req.Messages {
		history[i] = types.Message{Role: m.Role, Content: m.Content}
	}
	out, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt(req.PetAnalysis, req.PetProfile, products),
		Messages:     history,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxOutputTokens,
	})
	if err != nil {
		return Response{}, fault.Wrap(fault.Transient, "Failed to generate response. Please try again.", err)
	}

	reply := strings.TrimSpace(out.Content)
	if reply == "" {
		reply = s.cfg.FallbackReply
	}
	observe.Logger(ctx).Debug("chat reply generated",
		"messages", len(history), "finish_reason", out.FinishReason, "tokens", out.Usage.TotalTokens)
	return Response{
		Reply:               reply,
		RecommendedProducts: catalog.Mentioned(reply, products, s.cfg.MaxRecommendations),
	}, nil
}
