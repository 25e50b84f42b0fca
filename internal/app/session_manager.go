package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pettry/internal/api"
	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/internal/config"
	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/pkg/audio/wsaudio"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/provider/vad"
	"github.com/MrWong99/pettry/pkg/types"
	"github.com/MrWong99/pettry/pkg/voice"
)

var _ api.VoiceServer = (*SessionManager)(nil)

// ErrShuttingDown is returned by ServeVoice once Stop has been called.
var ErrShuttingDown = errors.New("app: shutting down")

// Responder answers a voice conversation and remembers the products named
// in its latest reply. *chat.Responder satisfies it.
type Responder interface {
	voice.Responder
	Recommended() []catalog.Product
}

// SessionInfo holds metadata about an active voice session.
type SessionInfo struct {
	// ID is unique per WebSocket connection.
	ID string

	// ShoppingSession is the cart session the widget reported, if any.
	ShoppingSession string

	Strategy  config.Strategy
	StartedAt time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Voice returns the current voice settings. New sessions pick up
	// reloaded settings; running sessions keep theirs.
	Voice func() config.VoiceConfig

	STT stt.Provider

	// TTS is required for the remote strategy.
	TTS tts.Provider

	// VAD defaults to the energy engine.
	VAD vad.Engine

	// NewResponder returns the chat backend for one conversation.
	NewResponder func(petAnalysis string) Responder

	// Keywords, when set, biases recognition towards catalog terms.
	Keywords func(ctx context.Context) []types.KeywordBoost

	Metrics *observe.Metrics
}

type activeSession struct {
	info   SessionInfo
	cancel context.CancelFunc
}

// SessionManager runs one voice assistant per browser connection.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu       sync.Mutex
	sessions map[string]*activeSession
	stopped  bool
	wg       sync.WaitGroup
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &SessionManager{cfg: cfg, sessions: make(map[string]*activeSession)}
}

// ServeVoice implements [api.VoiceServer]. It wires conn as microphone,
// speaker and synthesizer of a fresh coordinator, answers utterances with a
// new Responder and relays events to the browser until the connection
// closes or Stop is called.
func (sm *SessionManager) ServeVoice(ctx context.Context, conn *wsaudio.Conn, req api.VoiceRequest) error {
	if sm.isStopped() {
		return ErrShuttingDown
	}
	vc := sm.cfg.Voice()
	strategy, err := sm.strategy(vc, conn)
	if err != nil {
		sm.sendWarning(ctx, conn, err)
		return err
	}

	var keywords []types.KeywordBoost
	if sm.cfg.Keywords != nil {
		keywords = sm.cfg.Keywords(ctx)
	}
	co, err := voice.New(voice.Config{
		Capture: voice.CaptureConfig{
			Language:     vc.Locale,
			Keywords:     keywords,
			RestartDelay: vc.RestartDelay,
			StartTimeout: vc.StartTimeout,
		},
		Monitor: voice.MonitorConfig{
			Threshold:    vc.VADThreshold,
			PollInterval: vc.PollInterval,
			WindowSize:   vc.WindowSize,
		},
	}, voice.Deps{
		Microphone: conn,
		STT:        sm.cfg.STT,
		Strategy:   strategy,
		VAD:        sm.cfg.VAD,
	})
	if err != nil {
		return fmt.Errorf("app: start voice session: %w", err)
	}
	defer co.Close()

	responder := sm.cfg.NewResponder(req.PetAnalysis)
	assistant := voice.NewAssistant(co, responder)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	info := SessionInfo{
		ID:              uuid.NewString(),
		ShoppingSession: req.SessionID,
		Strategy:        vc.Strategy,
		StartedAt:       time.Now().UTC(),
	}
	if !sm.register(info, cancel) {
		return ErrShuttingDown
	}
	defer sm.unregister(info.ID)

	sm.cfg.Metrics.ActiveVoiceSessions.Add(ctx, 1)
	defer sm.cfg.Metrics.ActiveVoiceSessions.Add(context.WithoutCancel(ctx), -1)
	slog.Info("voice session started", "id", info.ID, "session", info.ShoppingSession, "strategy", info.Strategy)

	if err := conn.Send(ctx, wsaudio.Message{Type: wsaudio.TypeMode, Mode: co.CurrentMode().String()}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return conn.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return assistant.Run(gctx)
	})
	g.Go(func() error {
		sm.relay(gctx, conn, assistant, responder)
		return nil
	})
	g.Go(func() error {
		sm.control(gctx, conn, co, assistant)
		return nil
	})
	err = g.Wait()

	slog.Info("voice session ended", "id", info.ID, "duration", time.Since(info.StartedAt).Round(time.Millisecond))
	return err
}

// strategy builds the playback strategy vc selects.
func (sm *SessionManager) strategy(vc config.VoiceConfig, conn *wsaudio.Conn) (voice.Strategy, error) {
	switch vc.Strategy {
	case config.StrategyRemote:
		if sm.cfg.TTS == nil {
			return nil, fault.New(fault.Transient, "Remote speech is not available.")
		}
		return &voice.Remote{
			TTS:               sm.cfg.TTS,
			Speaker:           conn,
			Voice:             types.VoiceProfile{ID: vc.VoiceID},
			FirstChunkTimeout: vc.RemoteTimeout,
		}, nil
	default:
		return &voice.OnDevice{
			Synth:           conn,
			PreferredVoices: vc.PreferredVoices,
			LocalePrefix:    vc.Locale,
			Rate:            vc.Rate,
			Pitch:           vc.Pitch,
			Volume:          vc.Volume,
		}, nil
	}
}

// relay forwards assistant events to the browser and records playback
// outcomes. It returns when the assistant's event channel closes.
func (sm *SessionManager) relay(ctx context.Context, conn *wsaudio.Conn, a *voice.Assistant, r Responder) {
	for ev := range a.Events() {
		msg := eventMessage(ev)
		switch ev.Kind {
		case voice.EventReply:
			if products := r.Recommended(); len(products) > 0 {
				msg.Data = products
			}
		case voice.EventCompleted:
			sm.cfg.Metrics.RecordPlayback(ctx, "completed", "")
		case voice.EventInterrupted:
			sm.cfg.Metrics.RecordPlayback(ctx, "interrupted", ev.Reason)
		case voice.EventFailed:
			sm.cfg.Metrics.RecordPlayback(ctx, "failed", "")
		}
		if err := conn.Send(ctx, msg); err != nil {
			slog.Debug("voice: event not delivered", "type", msg.Type, "err", err)
		}
	}
}

// control applies the browser's listen, idle and say requests. It returns
// when the connection's control channel closes.
func (sm *SessionManager) control(ctx context.Context, conn *wsaudio.Conn, co *voice.Coordinator, a *voice.Assistant) {
	for msg := range conn.Controls() {
		var err error
		switch msg.Type {
		case wsaudio.TypeListen:
			err = co.SetMode(ctx, voice.Listening)
		case wsaudio.TypeIdle:
			err = co.SetMode(ctx, voice.Idle)
		case wsaudio.TypeSay:
			err = a.Say(ctx, msg.Text)
		}
		if err != nil && ctx.Err() == nil && !errors.Is(err, voice.ErrClosed) {
			sm.sendWarning(ctx, conn, err)
		}
	}
}

func (sm *SessionManager) sendWarning(ctx context.Context, conn *wsaudio.Conn, err error) {
	msg := wsaudio.Message{Type: wsaudio.TypeWarning, Error: fault.Message(err), Code: fault.KindOf(err).String()}
	if serr := conn.Send(ctx, msg); serr != nil {
		slog.Debug("voice: warning not delivered", "err", serr)
	}
}

// eventMessage converts ev to its wire form.
func eventMessage(ev voice.Event) wsaudio.Message {
	switch ev.Kind {
	case voice.EventModeChanged:
		return wsaudio.Message{Type: wsaudio.TypeMode, Mode: ev.Mode.String()}
	case voice.EventPartial:
		return wsaudio.Message{Type: wsaudio.TypePartial, Text: ev.Text}
	case voice.EventUtterance:
		return wsaudio.Message{Type: wsaudio.TypeUtterance, Text: ev.Text}
	case voice.EventReply:
		return wsaudio.Message{Type: wsaudio.TypeReply, Text: ev.Text}
	case voice.EventCompleted:
		return wsaudio.Message{Type: wsaudio.TypeCompleted, Text: ev.Text}
	case voice.EventInterrupted:
		return wsaudio.Message{Type: wsaudio.TypeInterrupted, Text: ev.Text, Reason: ev.Reason}
	case voice.EventFailed:
		return wsaudio.Message{Type: wsaudio.TypeFailed, Text: ev.Text, Error: fault.Message(ev.Err)}
	default:
		return wsaudio.Message{Type: wsaudio.TypeWarning, Error: fault.Message(ev.Err), Code: fault.KindOf(ev.Err).String()}
	}
}

func (sm *SessionManager) register(info SessionInfo, cancel context.CancelFunc) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.stopped {
		return false
	}
	sm.sessions[info.ID] = &activeSession{info: info, cancel: cancel}
	sm.wg.Add(1)
	return true
}

func (sm *SessionManager) unregister(id string) {
	sm.mu.Lock()
	delete(sm.sessions, id)
	sm.mu.Unlock()
	sm.wg.Done()
}

func (sm *SessionManager) isStopped() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stopped
}

// Active returns the number of running sessions.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Sessions returns metadata about the running sessions.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s.info)
	}
	return out
}

// Stop ends every running session, refuses new ones and waits until all
// have returned or ctx is done.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	sm.stopped = true
	for _, s := range sm.sessions {
		s.cancel()
	}
	n := len(sm.sessions)
	sm.mu.Unlock()

	if n > 0 {
		slog.Info("stopping voice sessions", "count", n)
	}
	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: stop voice sessions: %w", ctx.Err())
	}
}
