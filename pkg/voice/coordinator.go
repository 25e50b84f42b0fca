package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/provider/vad"
	"github.com/MrWong99/pettry/pkg/provider/vad/energy"
)

// ErrClosed is returned by coordinator methods after Close.
var ErrClosed = errors.New("voice: coordinator closed")

// Config configures a [Coordinator].
type Config struct {
	Capture CaptureConfig
	Monitor MonitorConfig

	// EventBuffer is the capacity of the event channel. Defaults to 256.
	EventBuffer int
}

// Deps are the devices and providers a [Coordinator] drives.
type Deps struct {
	Microphone audio.Microphone
	STT        stt.Provider
	Strategy   Strategy

	// VAD defaults to the energy engine.
	VAD vad.Engine
}

// turn is one playback session together with its interruption watch.
type turn struct {
	s        *Session
	watch    *Watch
	finished chan struct{}
}

// Coordinator owns the voice [Mode] and is the only component that starts
// and stops capture, playback and the interruption monitor. All transitions
// run under one mutex, so capture and playback are never active together
// and a watch exists only while its session plays.
//
// Events are never emitted while the mutex is held.
type Coordinator struct {
	bus      *eventBus
	capture  *Capture
	playback *Playback
	monitor  *Monitor

	mu            sync.Mutex
	mode          Mode
	wantListening bool
	turn          *turn
	closed        bool

	wg sync.WaitGroup
}

// New wires a coordinator from deps.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Microphone == nil:
		return nil, errors.New("voice: microphone is required")
	case deps.STT == nil:
		return nil, errors.New("voice: speech-to-text provider is required")
	case deps.Strategy == nil:
		return nil, errors.New("voice: playback strategy is required")
	}
	engine := deps.VAD
	if engine == nil {
		engine = energy.New()
	}

	bus := newEventBus(cfg.EventBuffer)
	mic := NewSharedMicrophone(deps.Microphone)
	c := &Coordinator{
		bus:      bus,
		capture:  newCapture(mic, deps.STT, cfg.Capture, bus),
		playback: NewPlayback(deps.Strategy),
		monitor:  newMonitor(mic, engine, cfg.Monitor),
	}
	c.capture.onFailure = c.captureFailed
	return c, nil
}

// Events delivers everything the voice subsystem reports. The channel is
// closed by Close.
func (c *Coordinator) Events() <-chan Event { return c.bus.ch }

// CurrentMode returns the active mode.
func (c *Coordinator) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Current returns the active playback session, or nil.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return nil
	}
	return c.turn.s
}

// SetMode requests Idle or Listening. While Speaking, the session is
// interrupted and the request applies once it has ended. Speaking cannot be
// requested; use Speak.
func (c *Coordinator) SetMode(ctx context.Context, requested Mode) error {
	if requested != Idle && requested != Listening {
		return fault.New(fault.Validation, "Speaking starts only when there is a reply to speak.")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.wantListening = requested == Listening

	if c.mode == Speaking && c.turn != nil {
		t := c.turn
		c.mu.Unlock()
		t.s.interrupt(ReasonCancelled)
		select {
		case <-t.finished:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var err error
	var events []Event
	switch requested {
	case Listening:
		err = c.capture.Start(ctx)
		if err == nil && c.mode != Listening {
			c.mode = Listening
			events = append(events, modeEvent(Listening))
		}
		if err != nil {
			c.wantListening = false
		}
	case Idle:
		_ = c.capture.Stop()
		if c.mode != Idle {
			c.mode = Idle
			events = append(events, modeEvent(Idle))
		}
	}
	c.mu.Unlock()

	c.emit(events)
	return err
}

// Speak stops capture, cancels any active session and speaks text. It
// returns once the new session has been started.
func (c *Coordinator) Speak(ctx context.Context, text string) (*Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fault.New(fault.Validation, "There is nothing to say.")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if prev := c.turn; prev != nil && prev.watch != nil {
		prev.watch.Stop()
	}
	_ = c.capture.Stop()

	t := &turn{finished: make(chan struct{})}
	t.s = c.playback.Start(ctx, text)
	c.turn = t

	var events []Event
	if c.mode != Speaking {
		c.mode = Speaking
		events = append(events, modeEvent(Speaking))
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.emit(events)
	go c.track(t)
	return t.s, nil
}

func (c *Coordinator) track(t *turn) {
	defer c.wg.Done()
	defer close(t.finished)

	select {
	case <-t.s.Playing():
		c.mu.Lock()
		if c.turn == t && !c.closed {
			t.watch = c.monitor.Watch(t.s, nil)
		}
		c.mu.Unlock()
		<-t.s.Done()
	case <-t.s.Done():
	}
	c.finish(t)
}

// finish tears down the watch of an ended session and, if it is still the
// current one, leaves Speaking.
func (c *Coordinator) finish(t *turn) {
	state, err := t.s.Wait()
	events := []Event{outcomeEvent(t.s, state, err)}

	c.mu.Lock()
	if t.watch != nil {
		t.watch.Stop()
	}
	if c.turn == t {
		c.turn = nil
		if state == SessionInterrupted && t.s.Reason() == ReasonBargeIn {
			c.wantListening = true
		}
		next := Idle
		if c.wantListening && !c.closed {
			// Start gives up after CaptureConfig.StartTimeout, so a hung
			// recogniser cannot hold c.mu.
			if err := c.capture.Start(context.Background()); err != nil {
				c.wantListening = false
			} else {
				next = Listening
			}
		}
		c.mode = next
		events = append(events, modeEvent(next))
	}
	c.mu.Unlock()

	c.emit(events)
}

func (c *Coordinator) captureFailed(error) {
	c.mu.Lock()
	var events []Event
	if c.mode == Listening && !c.capture.Active() {
		c.mode = Idle
		c.wantListening = false
		events = append(events, modeEvent(Idle))
	}
	c.mu.Unlock()
	c.emit(events)
}

// Close interrupts playback, stops capture and closes the event channel.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.wantListening = false
	t := c.turn
	c.mu.Unlock()

	if t != nil {
		t.s.interrupt(ReasonCancelled)
	}
	c.wg.Wait()
	_ = c.capture.Stop()

	c.mu.Lock()
	c.mode = Idle
	c.mu.Unlock()
	c.bus.close()
	slog.Debug("voice: coordinator closed")
	return nil
}

func (c *Coordinator) emit(events []Event) {
	for _, ev := range events {
		c.bus.emit(ev)
	}
}

func modeEvent(m Mode) Event {
	return Event{Kind: EventModeChanged, Mode: m}
}

func outcomeEvent(s *Session, state SessionState, err error) Event {
	ev := Event{SessionID: s.ID(), Text: s.Text(), Err: err}
	switch state {
	case SessionCompleted:
		ev.Kind = EventCompleted
	case SessionInterrupted:
		ev.Kind = EventInterrupted
		ev.Reason = s.Reason()
	default:
		ev.Kind = EventFailed
	}
	return ev
}
