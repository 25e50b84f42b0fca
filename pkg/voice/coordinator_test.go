package voice_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/pettry/pkg/audio"
	audiomock "github.com/MrWong99/pettry/pkg/audio/mock"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	sttmock "github.com/MrWong99/pettry/pkg/provider/stt/mock"
	"github.com/MrWong99/pettry/pkg/provider/vad"
	vadmock "github.com/MrWong99/pettry/pkg/provider/vad/mock"
	"github.com/MrWong99/pettry/pkg/voice"
	"github.com/MrWong99/pettry/pkg/voice/mock"
)

type rig struct {
	co       *voice.Coordinator
	events   <-chan voice.Event
	mic      *audiomock.Microphone
	stt      *sttmock.Provider
	strategy *mock.Strategy
}

func newRig(t *testing.T, engine vad.Engine) *rig {
	t.Helper()
	r := &rig{
		mic:      audiomock.NewMicrophone(),
		stt:      &sttmock.Provider{},
		strategy: &mock.Strategy{Hold: true},
	}
	co, err := voice.New(voice.Config{
		Capture: voice.CaptureConfig{RestartDelay: 5 * time.Millisecond},
		Monitor: fastMonitor,
	}, voice.Deps{
		Microphone: r.mic,
		STT:        r.stt,
		Strategy:   r.strategy,
		VAD:        engine,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.co = co
	r.events = co.Events()
	t.Cleanup(func() { _ = co.Close() })
	return r
}

func speechVAD() vad.Engine {
	return &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.Event{Type: vad.SpeechStart, Level: 90}}}
}

func TestNew_RequiresDeps(t *testing.T) {
	mic := audiomock.NewMicrophone()
	tests := []struct {
		name string
		deps voice.Deps
	}{
		{name: "microphone", deps: voice.Deps{STT: &sttmock.Provider{}, Strategy: &mock.Strategy{}}},
		{name: "stt", deps: voice.Deps{Microphone: mic, Strategy: &mock.Strategy{}}},
		{name: "strategy", deps: voice.Deps{Microphone: mic, STT: &sttmock.Provider{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := voice.New(voice.Config{}, tc.deps); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCoordinator_ListenAndIdle(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()

	if r.co.CurrentMode() != voice.Idle {
		t.Fatalf("initial mode = %s", r.co.CurrentMode())
	}
	if err := r.co.SetMode(ctx, voice.Listening); err != nil {
		t.Fatalf("SetMode(Listening): %v", err)
	}
	nextMode(t, r.events, voice.Listening)
	if !r.co.CaptureActive() || r.mic.OpenCount() != 1 {
		t.Errorf("capture not running: active=%v open=%d", r.co.CaptureActive(), r.mic.OpenCount())
	}

	if err := r.co.SetMode(ctx, voice.Idle); err != nil {
		t.Fatalf("SetMode(Idle): %v", err)
	}
	nextMode(t, r.events, voice.Idle)
	if r.co.CaptureActive() || r.mic.OpenCount() != 0 {
		t.Errorf("capture still running after Idle")
	}
}

func TestCoordinator_SpeakingCannotBeRequested(t *testing.T) {
	r := newRig(t, nil)
	err := r.co.SetMode(context.Background(), voice.Speaking)
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("err = %v, want validation fault", err)
	}
	if r.co.CurrentMode() != voice.Idle {
		t.Errorf("mode = %s", r.co.CurrentMode())
	}
}

func TestCoordinator_SpeakEmptyText(t *testing.T) {
	r := newRig(t, nil)
	if _, err := r.co.Speak(context.Background(), " "); !fault.Is(err, fault.Validation) {
		t.Fatalf("err = %v, want validation fault", err)
	}
	if len(r.strategy.Texts()) != 0 {
		t.Error("blank text was spoken")
	}
}

func TestCoordinator_SpeakFromListeningResumes(t *testing.T) {
	r := newRig(t, nil)
	ctx := context.Background()
	sttStarted := r.stt.Started()
	spoken := r.strategy.Started()

	if err := r.co.SetMode(ctx, voice.Listening); err != nil {
		t.Fatal(err)
	}
	first := <-sttStarted

	s, err := r.co.Speak(ctx, "We have four kinds of cat litter.")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if r.co.CurrentMode() != voice.Speaking {
		t.Errorf("mode = %s, want speaking", r.co.CurrentMode())
	}
	if r.co.CaptureActive() || !first.Ended() {
		t.Error("capture still active while speaking")
	}
	<-spoken
	waitFor(t, "interruption watch", func() bool { return r.co.ActiveWatches() == 1 })

	r.strategy.Finish()
	if got := waitDone(t, s); got != voice.SessionCompleted {
		t.Fatalf("state = %s", got)
	}
	ev := nextEvent(t, r.events, voice.EventCompleted)
	if ev.SessionID != s.ID() {
		t.Errorf("completed session = %d, want %d", ev.SessionID, s.ID())
	}
	nextMode(t, r.events, voice.Listening)

	select {
	case <-sttStarted:
	case <-time.After(testTimeout):
		t.Fatal("capture did not resume")
	}
	if r.co.ActiveWatches() != 0 {
		t.Errorf("watches after completion = %d", r.co.ActiveWatches())
	}
	if r.mic.MaxOpen() != 1 {
		t.Errorf("capture and monitor held the microphone together: max open = %d", r.mic.MaxOpen())
	}
}

func TestCoordinator_SpeakFromIdleReturnsToIdle(t *testing.T) {
	r := newRig(t, nil)
	r.strategy.Hold = false

	s, err := r.co.Speak(context.Background(), "Hello!")
	if err != nil {
		t.Fatal(err)
	}
	nextMode(t, r.events, voice.Speaking)
	waitDone(t, s)
	nextEvent(t, r.events, voice.EventCompleted)
	nextMode(t, r.events, voice.Idle)
	if r.stt.CallCount() != 0 {
		t.Error("capture started after speaking from idle")
	}
}

func TestCoordinator_SetModeWhileSpeaking(t *testing.T) {
	tests := []struct {
		name      string
		requested voice.Mode
	}{
		{name: "idle", requested: voice.Idle},
		{name: "listening", requested: voice.Listening},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newRig(t, nil)
			spoken := r.strategy.Started()
			s, err := r.co.Speak(context.Background(), "A long answer.")
			if err != nil {
				t.Fatal(err)
			}
			<-spoken

			if err := r.co.SetMode(context.Background(), tc.requested); err != nil {
				t.Fatalf("SetMode: %v", err)
			}
			if s.State() != voice.SessionInterrupted || s.Reason() != voice.ReasonCancelled {
				t.Errorf("session = %s (%q)", s.State(), s.Reason())
			}
			if got := r.co.CurrentMode(); got != tc.requested {
				t.Errorf("mode = %s, want %s", got, tc.requested)
			}
			if r.co.CaptureActive() != (tc.requested == voice.Listening) {
				t.Errorf("capture active = %v", r.co.CaptureActive())
			}
			if r.co.ActiveWatches() != 0 {
				t.Errorf("watch outlived session")
			}
		})
	}
}

func TestCoordinator_BargeInResumesListening(t *testing.T) {
	r := newRig(t, speechVAD())
	sttStarted := r.stt.Started()

	s, err := r.co.Speak(context.Background(), "Our best-selling dog bed is")
	if err != nil {
		t.Fatal(err)
	}
	if got := waitDone(t, s); got != voice.SessionInterrupted {
		t.Fatalf("state = %s, want interrupted", got)
	}
	ev := nextEvent(t, r.events, voice.EventInterrupted)
	if ev.Reason != voice.ReasonBargeIn {
		t.Errorf("reason = %q, want %q", ev.Reason, voice.ReasonBargeIn)
	}
	nextMode(t, r.events, voice.Listening)
	select {
	case <-sttStarted:
	case <-time.After(testTimeout):
		t.Fatal("capture did not start after barge-in")
	}
	if r.co.ActiveWatches() != 0 {
		t.Errorf("watches = %d", r.co.ActiveWatches())
	}
	if r.mic.MaxOpen() != 1 {
		t.Errorf("max open = %d", r.mic.MaxOpen())
	}
}

func TestCoordinator_SpeakPreemptsPrevious(t *testing.T) {
	r := newRig(t, nil)
	spoken := r.strategy.Started()
	ctx := context.Background()

	first, err := r.co.Speak(ctx, "first reply")
	if err != nil {
		t.Fatal(err)
	}
	<-spoken
	second, err := r.co.Speak(ctx, "second reply")
	if err != nil {
		t.Fatal(err)
	}
	if got := waitDone(t, first); got != voice.SessionInterrupted || first.Reason() != voice.ReasonPreempted {
		t.Errorf("first = %s (%q)", got, first.Reason())
	}
	<-spoken
	if r.co.Current() != second || r.co.CurrentMode() != voice.Speaking {
		t.Errorf("current = %v mode = %s", r.co.Current(), r.co.CurrentMode())
	}
	waitFor(t, "watch on second session", func() bool { return r.co.ActiveWatches() == 1 })

	r.strategy.Finish()
	waitDone(t, second)
	waitFor(t, "coordinator to go idle", func() bool { return r.co.CurrentMode() == voice.Idle })
	if r.strategy.MaxActive() != 1 {
		t.Errorf("overlapping speech: %d", r.strategy.MaxActive())
	}
}

func TestCoordinator_CyclesLeaveNothingBehind(t *testing.T) {
	r := newRig(t, nil)
	r.strategy.Hold = false
	ctx := context.Background()
	if err := r.co.SetMode(ctx, voice.Listening); err != nil {
		t.Fatal(err)
	}

	for i := range 20 {
		s, err := r.co.Speak(ctx, "reply")
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		waitDone(t, s)
		waitFor(t, "listening", func() bool { return r.co.CurrentMode() == voice.Listening })
	}
	waitFor(t, "watches to end", func() bool { return r.co.ActiveWatches() == 0 })
	if r.mic.MaxOpen() != 1 {
		t.Errorf("max open = %d, want 1", r.mic.MaxOpen())
	}
	if err := r.co.SetMode(ctx, voice.Idle); err != nil {
		t.Fatal(err)
	}
	if r.mic.OpenCount() != 0 {
		t.Errorf("open streams = %d", r.mic.OpenCount())
	}
}

func TestCoordinator_CaptureFailureGoesIdle(t *testing.T) {
	r := newRig(t, nil)
	sttStarted := r.stt.Started()
	if err := r.co.SetMode(context.Background(), voice.Listening); err != nil {
		t.Fatal(err)
	}
	sess := <-sttStarted

	sess.EmitError(errors.New("recogniser crashed"))
	nextEvent(t, r.events, voice.EventWarning)
	nextMode(t, r.events, voice.Idle)
	if r.co.CurrentMode() != voice.Idle {
		t.Errorf("mode = %s", r.co.CurrentMode())
	}
}

func TestCoordinator_PermissionDenied(t *testing.T) {
	r := newRig(t, nil)
	r.mic.OpenErr = audio.ErrPermissionDenied

	err := r.co.SetMode(context.Background(), voice.Listening)
	if !fault.Is(err, fault.Permission) {
		t.Fatalf("err = %v, want permission fault", err)
	}
	nextEvent(t, r.events, voice.EventWarning)
	if r.co.CurrentMode() != voice.Idle {
		t.Errorf("mode = %s", r.co.CurrentMode())
	}

	// Speaking still works without a microphone.
	r.strategy.Hold = false
	s, err := r.co.Speak(context.Background(), "You can keep typing.")
	if err != nil {
		t.Fatal(err)
	}
	if got := waitDone(t, s); got != voice.SessionCompleted {
		t.Errorf("state = %s", got)
	}
}

func TestCoordinator_Close(t *testing.T) {
	r := newRig(t, nil)
	spoken := r.strategy.Started()
	s, err := r.co.Speak(context.Background(), "goodbye")
	if err != nil {
		t.Fatal(err)
	}
	<-spoken

	if err := r.co.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != voice.SessionInterrupted {
		t.Errorf("session = %s", s.State())
	}
	for range r.events {
	}
	if _, err := r.co.Speak(context.Background(), "hi"); !errors.Is(err, voice.ErrClosed) {
		t.Errorf("Speak after Close = %v", err)
	}
	if err := r.co.SetMode(context.Background(), voice.Listening); !errors.Is(err, voice.ErrClosed) {
		t.Errorf("SetMode after Close = %v", err)
	}
	if r.mic.OpenCount() != 0 || r.co.ActiveWatches() != 0 {
		t.Error("resources left after Close")
	}
}

// stallingSTT serves the first stream and blocks every later StartStream
// until its context ends, like a recogniser whose handshake never completes.
type stallingSTT struct {
	sttmock.Provider
	calls atomic.Int32
}

func (p *stallingSTT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if p.calls.Add(1) > 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.Provider.StartStream(ctx, cfg)
}

func TestCoordinator_HungRecogniserAfterSpeaking(t *testing.T) {
	strat := &mock.Strategy{Hold: true}
	spoken := strat.Started()
	co, err := voice.New(voice.Config{
		Capture: voice.CaptureConfig{RestartDelay: 5 * time.Millisecond, StartTimeout: 50 * time.Millisecond},
		Monitor: fastMonitor,
	}, voice.Deps{
		Microphone: audiomock.NewMicrophone(),
		STT:        &stallingSTT{},
		Strategy:   strat,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = co.Close() })
	events := co.Events()
	ctx := context.Background()

	if err := co.SetMode(ctx, voice.Listening); err != nil {
		t.Fatal(err)
	}
	nextMode(t, events, voice.Listening)
	s, err := co.Speak(ctx, "Parakeets need a roomy cage.")
	if err != nil {
		t.Fatal(err)
	}
	<-spoken
	strat.Finish()
	if got := waitDone(t, s); got != voice.SessionCompleted {
		t.Fatalf("state = %s", got)
	}

	ev := nextEvent(t, events, voice.EventWarning)
	if !fault.Is(ev.Err, fault.Transient) {
		t.Errorf("warning = %v, want transient fault", ev.Err)
	}
	nextMode(t, events, voice.Idle)

	mode := make(chan voice.Mode, 1)
	go func() { mode <- co.CurrentMode() }()
	select {
	case m := <-mode:
		if m != voice.Idle {
			t.Errorf("mode = %s, want idle", m)
		}
	case <-time.After(testTimeout):
		t.Fatal("CurrentMode blocked behind the recogniser")
	}

	closed := make(chan error, 1)
	go func() { closed <- co.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Close blocked behind the recogniser")
	}
}

func TestCoordinator_CompletedSessionIgnoresLateSpeech(t *testing.T) {
	r := newRig(t, speechVAD())
	r.strategy.Hold = false
	ctx := context.Background()

	for i := range 20 {
		s, err := r.co.Speak(ctx, "Goldfish flakes are on sale.")
		if err != nil {
			t.Fatal(err)
		}
		state := waitDone(t, s)
		waitFor(t, "speaking to end", func() bool { return r.co.CurrentMode() != voice.Speaking })

		bargedIn := state == voice.SessionInterrupted && s.Reason() == voice.ReasonBargeIn
		if state == voice.SessionCompleted && s.Reason() != "" {
			t.Fatalf("cycle %d: completed session has reason %q", i, s.Reason())
		}
		want := voice.Idle
		if bargedIn {
			want = voice.Listening
		}
		if got := r.co.CurrentMode(); got != want {
			t.Fatalf("cycle %d: state = %s reason = %q mode = %s, want %s", i, state, s.Reason(), got, want)
		}
		if err := r.co.SetMode(ctx, voice.Idle); err != nil {
			t.Fatal(err)
		}
	}
}

// exclusiveSTT counts recogniser streams opened while speech is playing.
type exclusiveSTT struct {
	sttmock.Provider
	strategy *mock.Strategy
	overlaps *atomic.Int32
}

func (p *exclusiveSTT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if p.strategy.Active() > 0 {
		p.overlaps.Add(1)
	}
	return p.Provider.StartStream(ctx, cfg)
}

// exclusiveStrategy counts replies spoken while a recogniser stream is open.
type exclusiveStrategy struct {
	*mock.Strategy
	stt      *exclusiveSTT
	overlaps *atomic.Int32
}

func (s *exclusiveStrategy) Speak(ctx context.Context, text string) error {
	for _, sess := range s.stt.Sessions() {
		if !sess.Ended() {
			s.overlaps.Add(1)
		}
	}
	return s.Strategy.Speak(ctx, text)
}

func TestCoordinator_RandomTransitionsKeepCaptureAndPlaybackApart(t *testing.T) {
	var overlaps atomic.Int32
	strat := &mock.Strategy{Hold: true}
	recogniser := &exclusiveSTT{strategy: strat, overlaps: &overlaps}
	mic := audiomock.NewMicrophone()
	co, err := voice.New(voice.Config{
		Capture: voice.CaptureConfig{RestartDelay: 5 * time.Millisecond},
		Monitor: fastMonitor,
	}, voice.Deps{
		Microphone: mic,
		STT:        recogniser,
		Strategy:   &exclusiveStrategy{Strategy: strat, stt: recogniser, overlaps: &overlaps},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = co.Close() })
	go func() {
		for range co.Events() {
		}
	}()

	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	var sessions []*voice.Session
	if err := co.SetMode(ctx, voice.Listening); err != nil {
		t.Fatal(err)
	}
	for step := range 200 {
		switch rng.IntN(4) {
		case 0:
			if err := co.SetMode(ctx, voice.Listening); err != nil {
				t.Fatalf("step %d: SetMode(Listening): %v", step, err)
			}
		case 1:
			if err := co.SetMode(ctx, voice.Idle); err != nil {
				t.Fatalf("step %d: SetMode(Idle): %v", step, err)
			}
		case 2:
			s, err := co.Speak(ctx, "Would you like a bag of treats too?")
			if err != nil {
				t.Fatalf("step %d: Speak: %v", step, err)
			}
			sessions = append(sessions, s)
		case 3:
			strat.Finish()
		}
		time.Sleep(time.Duration(rng.IntN(3)) * time.Millisecond)
	}
	strat.Finish()
	for _, s := range sessions {
		waitDone(t, s)
	}
	if err := co.SetMode(ctx, voice.Idle); err != nil {
		t.Fatal(err)
	}

	if n := overlaps.Load(); n != 0 {
		t.Errorf("capture and playback overlapped %d times", n)
	}
	if strat.MaxActive() != 1 {
		t.Errorf("overlapping speech: %d", strat.MaxActive())
	}
	if mic.MaxOpen() != 1 {
		t.Errorf("max open = %d, want 1", mic.MaxOpen())
	}
	if mic.OpenCount() != 0 {
		t.Errorf("open streams = %d", mic.OpenCount())
	}
}
