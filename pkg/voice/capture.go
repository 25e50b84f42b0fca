package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/types"
)

const (
	defaultCaptureRate  = 16000
	defaultRestartDelay = 250 * time.Millisecond
	defaultStartTimeout = 10 * time.Second
)

// CaptureConfig configures speech capture.
type CaptureConfig struct {
	// Language is the BCP 47 recognition language. Empty lets the provider
	// choose.
	Language string

	// SampleRate is the rate audio is converted to before recognition.
	// Defaults to 16 kHz.
	SampleRate int

	// Keywords bias recognition towards product and breed names.
	Keywords []types.KeywordBoost

	// RestartDelay is the pause before a recogniser stream that ended on its
	// own is reopened. Defaults to 250ms.
	RestartDelay time.Duration

	// StartTimeout bounds opening a recogniser stream. Defaults to 10s.
	StartTimeout time.Duration
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultCaptureRate
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	return c
}

// Capture streams the shared microphone into a speech recogniser.
//
// Interim results become [EventPartial] events and non-blank final results
// become [EventUtterance] events. While capture is wanted, a recogniser stream
// that ends on its own is reopened after RestartDelay. Any recognition error
// other than [stt.ErrNoSpeech] stops capture and is reported as an
// [EventWarning]; the next Start begins afresh.
type Capture struct {
	mic      *SharedMicrophone
	provider stt.Provider
	cfg      CaptureConfig
	bus      *eventBus

	// onFailure runs in its own goroutine after capture stopped because of
	// an error.
	onFailure func(error)

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newCapture(mic *SharedMicrophone, provider stt.Provider, cfg CaptureConfig, bus *eventBus) *Capture {
	return &Capture{mic: mic, provider: provider, cfg: cfg.withDefaults(), bus: bus}
}

// Active reports whether capture is running.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start acquires the microphone and opens a recogniser stream. Starting an
// active capture is a no-op. Capture keeps running after ctx is done; it
// ends with Stop or a recognition error.
//
// A denied microphone returns a [fault.Permission] error and emits a warning.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		slog.Debug("voice: capture already active")
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lease, err := c.mic.Acquire(runCtx, "capture")
	if err != nil {
		cancel()
		return c.startFailed(err)
	}
	sess, err := c.openStream(ctx)
	if err != nil {
		lease.Release()
		cancel()
		return c.startFailed(err)
	}

	c.active = true
	c.cancel = cancel
	c.done = make(chan struct{})
	slog.Debug("voice: capture started", "language", c.cfg.Language)
	go c.run(runCtx, lease, sess, c.done)
	return nil
}

func (c *Capture) startFailed(err error) error {
	var ferr error
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		ferr = fault.Wrap(fault.Permission, "Microphone access was denied. You can keep typing your questions.", err)
	case errors.Is(err, ErrMicrophoneBusy):
		ferr = fault.Wrap(fault.Internal, "The microphone is in use.", err)
	default:
		ferr = fault.Wrap(fault.Transient, "Speech recognition is unavailable right now.", err)
	}
	slog.Warn("voice: capture failed to start", "err", err)
	c.bus.emit(Event{Kind: EventWarning, Err: ferr})
	return ferr
}

// Stop ends capture and waits until the microphone is released. Stopping an
// inactive capture is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	slog.Debug("voice: capture stopped")
	return nil
}

// openStream starts a recogniser stream, giving up after StartTimeout.
func (c *Capture) openStream(ctx context.Context) (stt.SessionHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()
	sess, err := c.provider.StartStream(ctx, c.streamConfig())
	if err != nil {
		return nil, fmt.Errorf("voice: open recogniser stream: %w", err)
	}
	return sess, nil
}

func (c *Capture) streamConfig() stt.StreamConfig {
	return stt.StreamConfig{
		SampleRate: c.cfg.SampleRate,
		Channels:   1,
		Language:   c.cfg.Language,
		Interim:    true,
		Keywords:   c.cfg.Keywords,
	}
}

func (c *Capture) run(ctx context.Context, lease *Lease, sess stt.SessionHandle, done chan struct{}) {
	defer close(done)
	defer lease.Release()

	for {
		err := c.pump(ctx, lease, sess)
		_ = sess.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.fail(lease, err)
			return
		}

		slog.Debug("voice: recogniser stream ended, restarting", "delay", c.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RestartDelay):
		}
		sess, err = c.openStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.fail(lease, err)
			}
			return
		}
	}
}

// pump moves audio into sess and transcripts out of it until the recogniser
// stream ends (nil), ctx is done, or an error occurs.
func (c *Capture) pump(ctx context.Context, lease *Lease, sess stt.SessionHandle) error {
	conv := &audio.Converter{Target: audio.Format{SampleRate: c.cfg.SampleRate, Channels: 1}}
	frames := lease.Frames()
	partials, finals, errs := sess.Partials(), sess.Finals(), sess.Errors()

	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("voice: microphone stream ended: %w", audio.ErrClosed)
			}
			out := conv.Convert(f)
			if len(out.Data) == 0 {
				continue
			}
			if err := sess.SendAudio(out.Data); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
				return err
			}

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				c.bus.emit(Event{Kind: EventPartial, Text: text})
			}

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			slog.Debug("voice: utterance", "text", text, "confidence", t.Confidence)
			c.bus.emit(Event{Kind: EventUtterance, Text: text})

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if errors.Is(err, stt.ErrNoSpeech) {
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Capture) fail(lease *Lease, err error) {
	lease.Release()

	c.mu.Lock()
	stale := !c.active
	c.active = false
	cancel := c.cancel
	c.mu.Unlock()
	if stale {
		return
	}
	cancel()

	slog.Warn("voice: capture stopped after recognition error", "err", err)
	ferr := fault.Wrap(fault.Transient, "Speech recognition stopped. Try again or type your question.", err)
	c.bus.emit(Event{Kind: EventWarning, Err: ferr})
	if c.onFailure != nil {
		go c.onFailure(ferr)
	}
}
