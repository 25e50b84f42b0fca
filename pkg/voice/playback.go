package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/pettry/pkg/fault"
)

// SessionState is the lifecycle state of a playback [Session].
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionPlaying
	SessionCompleted
	SessionInterrupted
	SessionFailed
)

// String returns the lower-case state name.
func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionPlaying:
		return "playing"
	case SessionCompleted:
		return "completed"
	case SessionInterrupted:
		return "interrupted"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool { return s >= SessionCompleted }

// Strategy renders text as audible speech. Speak blocks until the speech
// has finished or ctx is cancelled. Implementations call [NotifyPlaying]
// once audio is actually audible.
type Strategy interface {
	Speak(ctx context.Context, text string) error
}

type playingHookKey struct{}

// NotifyPlaying tells the playback session behind ctx that its audio has
// started. Calling it more than once, or with a ctx that does not belong to
// a session, is harmless.
func NotifyPlaying(ctx context.Context) {
	if fn, ok := ctx.Value(playingHookKey{}).(func()); ok {
		fn()
	}
}

// Session is one spoken reply.
type Session struct {
	id   uint64
	text string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   SessionState
	reason  string
	err     error
	playing chan struct{}
	done    chan struct{}
}

func newSession(ctx context.Context, id uint64, text string) *Session {
	sctx, cancel := context.WithCancel(ctx)
	return &Session{
		id:      id,
		text:    text,
		ctx:     sctx,
		cancel:  cancel,
		playing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID is unique per [Playback].
func (s *Session) ID() uint64 { return s.id }

// Text is what the session speaks.
func (s *Session) Text() string { return s.text }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns why the session was interrupted, or "".
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Playing is closed when audio starts. It is never closed for a session
// that ends before producing audio.
func (s *Session) Playing() <-chan struct{} { return s.playing }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns its terminal state and,
// for failed sessions, the error.
func (s *Session) Wait() (SessionState, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Cancel stops the session. It is idempotent, and a no-op once the session
// has ended.
func (s *Session) Cancel() { s.interrupt(ReasonCancelled) }

// interrupt cancels s with reason. It reports false when s had already
// ended or an earlier interruption claimed it.
func (s *Session) interrupt(reason string) bool {
	s.mu.Lock()
	if s.state.Terminal() || s.reason != "" {
		s.mu.Unlock()
		return false
	}
	s.reason = reason
	s.mu.Unlock()
	s.cancel()
	return true
}

func (s *Session) markPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionCreated {
		return
	}
	s.state = SessionPlaying
	close(s.playing)
}

func (s *Session) finish(state SessionState, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = err
	switch {
	case state != SessionInterrupted:
		s.reason = ""
	case s.reason == "":
		s.reason = ReasonCancelled
	}
	s.mu.Unlock()
	s.cancel()
	close(s.done)
}

// Playback runs at most one [Session] at a time. Starting a session cancels
// the previous one, and the new session produces no audio until the old one
// has ended.
type Playback struct {
	strategy Strategy

	mu      sync.Mutex
	current *Session
	nextID  uint64
}

// NewPlayback returns a Playback speaking through strategy.
func NewPlayback(strategy Strategy) *Playback {
	return &Playback{strategy: strategy}
}

// Start begins speaking text and returns immediately. Blank text yields a
// session that has already failed with a [fault.Validation] error.
// Cancelling ctx interrupts the session.
func (p *Playback) Start(ctx context.Context, text string) *Session {
	return p.start(ctx, text, ReasonPreempted)
}

func (p *Playback) start(ctx context.Context, text, reason string) *Session {
	p.mu.Lock()
	p.nextID++
	s := newSession(ctx, p.nextID, text)
	prev := p.current
	p.current = s
	p.mu.Unlock()

	if prev != nil {
		prev.interrupt(reason)
	}
	if strings.TrimSpace(text) == "" {
		s.finish(SessionFailed, fault.New(fault.Validation, "There is nothing to say."))
		return s
	}
	go p.run(s, prev)
	return s
}

func (p *Playback) run(s, prev *Session) {
	if prev != nil {
		<-prev.Done()
	}
	if s.ctx.Err() != nil {
		s.finish(SessionInterrupted, nil)
		return
	}

	ctx := context.WithValue(s.ctx, playingHookKey{}, s.markPlaying)
	err := p.strategy.Speak(ctx, s.text)
	switch {
	case s.ctx.Err() != nil:
		s.finish(SessionInterrupted, nil)
	case err != nil:
		slog.Warn("voice: playback failed", "session", s.id, "err", err)
		if !errors.As(err, new(*fault.Error)) {
			err = fault.Wrap(fault.Transient, "The reply could not be spoken.", err)
		}
		s.finish(SessionFailed, err)
	default:
		s.finish(SessionCompleted, nil)
	}
}

// Current returns the most recently started session, which may already
// have ended, or nil.
func (p *Playback) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Cancel interrupts the current session, if any.
func (p *Playback) Cancel() {
	if s := p.Current(); s != nil {
		s.Cancel()
	}
}
