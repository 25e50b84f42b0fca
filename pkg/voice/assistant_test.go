package voice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/types"
	"github.com/MrWong99/pettry/pkg/voice"
)

type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	calls [][]types.Message
}

func (f *fakeResponder) Respond(_ context.Context, history []types.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, history)
	return f.reply, f.err
}

func (f *fakeResponder) Calls() [][]types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]types.Message(nil), f.calls...)
}

func runAssistant(t *testing.T, r *rig, responder voice.Responder) (*voice.Assistant, context.CancelFunc, <-chan error) {
	t.Helper()
	a := voice.NewAssistant(r.co, responder)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	t.Cleanup(cancel)
	return a, cancel, errc
}

func TestAssistant_AnswersUtterance(t *testing.T) {
	r := newRig(t, nil)
	r.strategy.Hold = false
	sttStarted := r.stt.Started()
	responder := &fakeResponder{reply: "Our grain-free salmon kibble is popular with Labradors."}
	a, _, _ := runAssistant(t, r, responder)

	if err := r.co.SetMode(context.Background(), voice.Listening); err != nil {
		t.Fatal(err)
	}
	(<-sttStarted).EmitFinal("what food is good for a labrador")

	ev := nextEvent(t, a.Events(), voice.EventReply)
	if ev.Text != responder.reply {
		t.Errorf("reply = %q", ev.Text)
	}
	nextEvent(t, a.Events(), voice.EventCompleted)
	nextMode(t, a.Events(), voice.Listening)

	calls := responder.Calls()
	if len(calls) != 1 || len(calls[0]) != 1 || calls[0][0].Role != types.RoleUser {
		t.Fatalf("responder calls = %+v", calls)
	}
	if texts := r.strategy.Texts(); len(texts) != 1 || texts[0] != responder.reply {
		t.Errorf("spoken = %v", texts)
	}
	history := a.History()
	if len(history) != 2 || history[1].Role != types.RoleAssistant {
		t.Errorf("history = %+v", history)
	}
}

func TestAssistant_SayUsesSamePath(t *testing.T) {
	r := newRig(t, nil)
	r.strategy.Hold = false
	responder := &fakeResponder{reply: "Added to your cart."}
	a, _, _ := runAssistant(t, r, responder)

	if err := a.Say(context.Background(), "add the cat tree"); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, a.Events(), voice.EventReply)
	nextEvent(t, a.Events(), voice.EventCompleted)
	if err := a.Say(context.Background(), "and a scratching post"); err != nil {
		t.Fatal(err)
	}
	nextEvent(t, a.Events(), voice.EventReply)

	calls := responder.Calls()
	if len(calls) != 2 || len(calls[1]) != 3 {
		t.Fatalf("second call history = %+v", calls)
	}
	if err := a.Say(context.Background(), "  "); !fault.Is(err, fault.Validation) {
		t.Errorf("blank Say err = %v", err)
	}
}

func TestAssistant_ResponderErrorWarns(t *testing.T) {
	r := newRig(t, nil)
	responder := &fakeResponder{err: errors.New("upstream 500")}
	a, _, _ := runAssistant(t, r, responder)

	if err := a.Say(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	ev := nextEvent(t, a.Events(), voice.EventWarning)
	if !fault.Is(ev.Err, fault.Transient) {
		t.Errorf("warning err = %v", ev.Err)
	}
	if len(r.strategy.Texts()) != 0 {
		t.Error("spoke despite responder error")
	}
	if r.co.CurrentMode() != voice.Idle {
		t.Errorf("mode = %s", r.co.CurrentMode())
	}
}

func TestAssistant_HistoryIsBounded(t *testing.T) {
	r := newRig(t, nil)
	r.strategy.Hold = false
	responder := &fakeResponder{reply: "ok"}
	a, _, _ := runAssistant(t, r, responder)

	for range voice.MaxHistory {
		if err := a.Say(context.Background(), "again"); err != nil {
			t.Fatal(err)
		}
		nextEvent(t, a.Events(), voice.EventReply)
	}
	calls := responder.Calls()
	last := calls[len(calls)-1]
	if len(last) != voice.MaxHistory {
		t.Errorf("history sent = %d, want %d", len(last), voice.MaxHistory)
	}
	if last[len(last)-1].Role != types.RoleUser {
		t.Error("last message is not from the user")
	}
}

func TestAssistant_StopsWhenCoordinatorCloses(t *testing.T) {
	r := newRig(t, nil)
	a, _, errc := runAssistant(t, r, &fakeResponder{reply: "hi"})

	_ = r.co.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run did not return")
	}
	for range a.Events() {
	}
}
