// Package mock provides test doubles for the stt package interfaces.
//
// Provider hands out a fresh *Session for every StartStream call unless
// StartStreamErr is set. Tests drive a session with EmitPartial, EmitFinal,
// EmitError and End, and inspect the audio it received.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess := p.LastSession()
//	sess.EmitFinal("add the dog food")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/types"
)

// Ensure the mocks implement the stt interfaces at compile time.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	sessions []*Session
	started  chan *Session
}

// StartStream records the call and returns a new Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	if p.started != nil {
		select {
		case p.started <- s:
		default:
		}
	}
	return s, nil
}

// Started returns a channel that receives each session as it is created.
// The channel is buffered; call it before the code under test starts
// streams.
func (p *Provider) Started() <-chan *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan *Session, 16)
	}
	return p.started
}

// Sessions returns every session created so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// CallCount returns the number of StartStream calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	partials chan types.Transcript
	finals   chan types.Transcript
	errs     chan error
	chunks   [][]byte
	closes   int
	ended    bool
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan types.Transcript, 16),
		finals:   make(chan types.Transcript, 16),
		errs:     make(chan error, 16),
	}
}

// SendAudio records a copy of chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return stt.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
	return nil
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan types.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// Errors implements stt.SessionHandle.
func (s *Session) Errors() <-chan error { return s.errs }

// EmitPartial delivers an interim transcript. No-op after End.
func (s *Session) EmitPartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.partials <- types.Transcript{Text: text}
	}
}

// EmitFinal delivers a final transcript. No-op after End.
func (s *Session) EmitFinal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.finals <- types.Transcript{Text: text, IsFinal: true}
	}
}

// EmitError delivers a recognition error. No-op after End.
func (s *Session) EmitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.errs <- err
	}
}

// End closes all output channels, as a recogniser does when its stream
// stops on its own. Safe to call more than once.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

func (s *Session) endLocked() {
	if s.ended {
		return
	}
	s.ended = true
	close(s.partials)
	close(s.finals)
	close(s.errs)
}

// Close records the call and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.endLocked()
	return nil
}

// Chunks returns copies of every audio chunk received.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Ended reports whether the session's channels are closed.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
