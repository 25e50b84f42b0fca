package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/types"
)

// MaxHistory is the number of conversation turns sent to the [Responder].
const MaxHistory = 50

const turnQueue = 8

// Responder answers a conversation. The last message of history is always
// from the user.
type Responder interface {
	Respond(ctx context.Context, history []types.Message) (string, error)
}

// Assistant answers each utterance out loud. It reads the coordinator's
// events, sends finalized utterances and typed text to a [Responder] one at
// a time and speaks the replies.
//
// Coordinator events are forwarded unchanged on Events, interleaved with
// [EventReply] events and warnings for failed turns.
type Assistant struct {
	co        *Coordinator
	responder Responder
	bus       *eventBus
	turns     chan string

	mu      sync.Mutex
	history []types.Message
}

// NewAssistant binds co to responder.
func NewAssistant(co *Coordinator, responder Responder) *Assistant {
	return &Assistant{
		co:        co,
		responder: responder,
		bus:       newEventBus(defaultEventBuffer),
		turns:     make(chan string, turnQueue),
	}
}

// Events delivers coordinator events and replies. Closed when Run returns.
func (a *Assistant) Events() <-chan Event { return a.bus.ch }

// History returns a copy of the conversation so far.
func (a *Assistant) History() []types.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Message, len(a.history))
	copy(out, a.history)
	return out
}

// Say queues typed text as a user turn.
func (a *Assistant) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fault.New(fault.Validation, "Please type a message.")
	}
	select {
	case a.turns <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes turns until ctx is done or the coordinator is closed.
func (a *Assistant) Run(ctx context.Context) error {
	defer a.bus.close()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case ev, ok := <-a.co.Events():
				if !ok {
					return ErrClosed
				}
				a.bus.emit(ev)
				if ev.Kind != EventUtterance {
					continue
				}
				select {
				case a.turns <- ev.Text:
				default:
					slog.Warn("voice: assistant busy, utterance dropped", "text", ev.Text)
				}
			}
		}
	})
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case text := <-a.turns:
				a.answer(egCtx, text)
			}
		}
	})

	err := eg.Wait()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (a *Assistant) answer(ctx context.Context, text string) {
	a.mu.Lock()
	a.history = append(a.history, types.Message{Role: types.RoleUser, Content: text})
	if n := len(a.history); n > MaxHistory {
		a.history = append([]types.Message(nil), a.history[n-MaxHistory:]...)
	}
	history := make([]types.Message, len(a.history))
	copy(history, a.history)
	a.mu.Unlock()

	reply, err := a.responder.Respond(ctx, history)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("voice: assistant reply failed", "err", err)
		if !errors.As(err, new(*fault.Error)) {
			err = fault.Wrap(fault.Transient, "Sorry, I had trouble answering. Please try again.", err)
		}
		a.bus.emit(Event{Kind: EventWarning, Err: err})
		return
	}

	a.mu.Lock()
	a.history = append(a.history, types.Message{Role: types.RoleAssistant, Content: reply})
	a.mu.Unlock()
	a.bus.emit(Event{Kind: EventReply, Text: reply})

	if _, err := a.co.Speak(ctx, reply); err != nil && !errors.Is(err, ErrClosed) {
		slog.Warn("voice: assistant cannot speak reply", "err", err)
		a.bus.emit(Event{Kind: EventWarning, Err: err})
	}
}
