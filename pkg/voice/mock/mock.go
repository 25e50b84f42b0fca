// Package mock provides test doubles for the voice package's [voice.Strategy]
// and [voice.Synthesizer] interfaces.
//
// Strategy reports playback as started on every call and, with Hold set,
// keeps speaking until Finish or cancellation:
//
//	s := &mock.Strategy{Hold: true}
//	sess := playback.Start(ctx, "Hello!")
//	<-s.Started()
//	s.Finish()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pettry/pkg/voice"
)

var (
	_ voice.Strategy    = (*Strategy)(nil)
	_ voice.Synthesizer = (*Synthesizer)(nil)
)

// Strategy is a mock [voice.Strategy].
type Strategy struct {
	mu sync.Mutex

	// Hold keeps Speak blocked until Finish or ctx cancellation.
	Hold bool

	// SpeakErr, when non-nil, is returned by Speak right away.
	SpeakErr error

	texts     []string
	active    int
	maxActive int
	release   chan struct{}
	started   chan string
}

// Speak implements [voice.Strategy].
func (s *Strategy) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.active++
	s.maxActive = max(s.maxActive, s.active)
	if s.release == nil {
		s.release = make(chan struct{})
	}
	release, hold, err := s.release, s.Hold, s.SpeakErr
	if s.started != nil {
		select {
		case s.started <- text:
		default:
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	if err != nil {
		return err
	}
	voice.NotifyPlaying(ctx)
	if !hold {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-release:
		return nil
	}
}

// Started returns a channel that receives the text of each Speak call. Call
// it before the code under test speaks.
func (s *Strategy) Started() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started == nil {
		s.started = make(chan string, 32)
	}
	return s.started
}

// Finish releases every Speak call blocked by Hold.
func (s *Strategy) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release != nil {
		close(s.release)
		s.release = nil
	}
}

// Texts returns the text of every Speak call in order.
func (s *Strategy) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}

// Active returns the number of Speak calls in progress.
func (s *Strategy) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MaxActive returns the highest number of overlapping Speak calls seen.
func (s *Strategy) MaxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// Synthesizer is a mock [voice.Synthesizer]. Speak returns immediately.
type Synthesizer struct {
	mu sync.Mutex

	// VoicesResult and VoicesErr are returned by Voices.
	VoicesResult []voice.DeviceVoice
	VoicesErr    error

	// SpeakErr, when non-nil, is returned by Speak.
	SpeakErr error

	utterances []voice.DeviceUtterance
}

// Voices implements [voice.Synthesizer].
func (s *Synthesizer) Voices(context.Context) ([]voice.DeviceVoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.VoicesResult, s.VoicesErr
}

// Speak implements [voice.Synthesizer].
func (s *Synthesizer) Speak(ctx context.Context, u voice.DeviceUtterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = append(s.utterances, u)
	if s.SpeakErr != nil {
		return s.SpeakErr
	}
	return ctx.Err()
}

// Utterances returns every utterance passed to Speak.
func (s *Synthesizer) Utterances() []voice.DeviceUtterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]voice.DeviceUtterance, len(s.utterances))
	copy(out, s.utterances)
	return out
}
