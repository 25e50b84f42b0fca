package voice

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultEventBuffer = 256

// EventKind names what an [Event] reports.
type EventKind int

const (
	// EventPartial carries an interim transcript.
	EventPartial EventKind = iota
	// EventUtterance carries a finalized transcript.
	EventUtterance
	// EventReply carries the assistant's answer before it is spoken.
	EventReply
	// EventCompleted: a playback session finished naturally.
	EventCompleted
	// EventInterrupted: a playback session was cancelled.
	EventInterrupted
	// EventFailed: a playback session could not be spoken.
	EventFailed
	// EventWarning: a non-fatal problem such as a denied microphone or a
	// recogniser error.
	EventWarning
	// EventModeChanged: the coordinator entered Mode.
	EventModeChanged
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventUtterance:
		return "utterance"
	case EventReply:
		return "reply"
	case EventCompleted:
		return "completed"
	case EventInterrupted:
		return "interrupted"
	case EventFailed:
		return "failed"
	case EventWarning:
		return "warning"
	case EventModeChanged:
		return "mode"
	default:
		return "unknown"
	}
}

// Interruption reasons carried in Event.Reason.
const (
	ReasonBargeIn   = "barge_in"
	ReasonPreempted = "preempted"
	ReasonCancelled = "cancelled"
)

// Event is one observable outcome of the voice subsystem.
type Event struct {
	Kind EventKind

	// Text is the transcript, reply or spoken text.
	Text string

	// Mode is set for EventModeChanged.
	Mode Mode

	// SessionID identifies the playback session for Completed, Interrupted
	// and Failed.
	SessionID uint64

	// Reason explains an interruption.
	Reason string

	// Err is set for Failed and Warning.
	Err error

	Time time.Time
}

// eventBus is a buffered, non-blocking event channel. Events that do not
// fit are dropped and counted; the voice loop never waits on a slow reader.
type eventBus struct {
	ch      chan Event
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func newEventBus(size int) *eventBus {
	if size <= 0 {
		size = defaultEventBuffer
	}
	return &eventBus{ch: make(chan Event, size)}
}

func (b *eventBus) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- ev:
	default:
		n := b.dropped.Add(1)
		slog.Warn("voice: event dropped, reader too slow", "kind", ev.Kind.String(), "dropped_total", n)
	}
}

// close closes the channel. Later emits are discarded.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
