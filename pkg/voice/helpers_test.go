package voice_test

import (
	"testing"
	"time"

	"github.com/MrWong99/pettry/pkg/voice"
)

const testTimeout = 2 * time.Second

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// nextEvent reads events until one of kind arrives.
func nextEvent(t *testing.T, ch <-chan voice.Event, kind voice.EventKind) voice.Event {
	t.Helper()
	timeout := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// nextMode reads events until the coordinator reports mode m.
func nextMode(t *testing.T, ch <-chan voice.Event, m voice.Mode) {
	t.Helper()
	timeout := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for mode %s", m)
			}
			if ev.Kind == voice.EventModeChanged && ev.Mode == m {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for mode %s", m)
		}
	}
}

// noEvent fails if an event of kind arrives within d.
func noEvent(t *testing.T, ch <-chan voice.Event, kind voice.EventKind, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind == kind {
				t.Fatalf("unexpected %s event: %+v", kind, ev)
			}
		case <-timeout:
			return
		}
	}
}

func waitDone(t *testing.T, s *voice.Session) voice.SessionState {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(testTimeout):
		t.Fatalf("session %d did not end (state %s)", s.ID(), s.State())
	}
	state, _ := s.Wait()
	return state
}
