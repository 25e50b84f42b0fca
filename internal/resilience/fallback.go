package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/pkg/fault"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// had an open circuit breaker. It is classified as [fault.Transient].
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every entry's breaker; Name is
	// replaced by the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics, e.g. "llm" or "tts".
	Kind string

	// Metrics receives one provider request per attempt. Nil disables
	// recording.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallbacks of the same
// provider type. Entries are tried in registration order.
//
// Fallbacks must be added before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a fallback tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cb := g.cfg.CircuitBreaker
	cb.Name = name
	g.entries = append(g.entries, fallbackEntry[T]{name: name, value: fallback, breaker: NewCircuitBreaker(cb)})
}

// Primary returns the first entry.
func (g *FallbackGroup[T]) Primary() T { return g.entries[0].value }

// Names lists the entries in the order they are tried.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Execute tries fn against each entry until one succeeds.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := Call(ctx, g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// Call tries fn against each entry of g until one succeeds and returns its
// result. Entries with an open breaker are skipped. An error that is not
// [Retryable] is returned immediately without trying further entries. When
// every entry failed the result wraps [ErrAllFailed] and the last error.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.entries {
		e := &g.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name, "kind", g.cfg.Kind)
			lastErr = err
			continue
		}
		if g.cfg.Metrics != nil {
			g.cfg.Metrics.RecordProviderRequest(ctx, e.name, g.cfg.Kind, err)
		}
		if err == nil {
			if i > 0 {
				slog.Info("served by fallback provider", "provider", e.name, "kind", g.cfg.Kind)
			}
			return res, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err
		if i < len(g.entries)-1 {
			slog.Warn("provider failed, trying next", "provider", e.name, "kind", g.cfg.Kind, "err", err)
		}
	}
	return zero, fault.Wrap(fault.Transient, "the service is temporarily unavailable",
		fmt.Errorf("%w: %w", ErrAllFailed, lastErr))
}
