// Package mock provides test doubles for the vad package interfaces.
//
// Session answers every ProcessFrame with EventResult unless a script of
// events was queued with Queue, which is consumed first.
//
//	sess := &mock.Session{}
//	sess.Queue(vad.Event{Type: vad.Silence}, vad.Event{Type: vad.SpeechStart, Level: 60})
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/pettry/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a fresh Session is created
	// per call.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall

	sessions []*Session
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	s := &Session{}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Sessions returns the sessions NewSession created itself.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// CallCount returns the number of NewSession calls.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.NewSessionCalls)
}

var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// EventResult is returned once the queued script is exhausted.
	EventResult vad.Event

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	script     []vad.Event
	frames     int
	resetCount int
	closeCount int
}

// Queue appends events that ProcessFrame returns in order before falling
// back to EventResult.
func (s *Session) Queue(events ...vad.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, events...)
}

// SetResult replaces EventResult.
func (s *Session) SetResult(ev vad.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EventResult = ev
}

// ProcessFrame records the call and returns the next scripted event.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}
	if len(s.script) > 0 {
		ev := s.script[0]
		s.script = s.script[1:]
		return ev, nil
	}
	return s.EventResult, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCount++
}

// Close records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return nil
}

// FrameCount returns how many frames were processed.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

var _ vad.SessionHandle = (*Session)(nil)
