package voice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/provider/vad"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultWindowSize   = 512
	defaultThreshold    = 30
)

// MonitorConfig configures barge-in detection.
type MonitorConfig struct {
	// Threshold is the VAD level above which the user is considered to be
	// talking. Defaults to 30.
	Threshold float64

	// PollInterval is how often the latest window is analysed. Defaults to
	// 100ms.
	PollInterval time.Duration

	// WindowSize is the number of mono samples analysed per poll. Defaults
	// to 512.
	WindowSize int
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	return c
}

// Monitor listens for the user talking over a playing [Session].
type Monitor struct {
	mic    *SharedMicrophone
	engine vad.Engine
	cfg    MonitorConfig
	active atomic.Int32
}

func newMonitor(mic *SharedMicrophone, engine vad.Engine, cfg MonitorConfig) *Monitor {
	return &Monitor{mic: mic, engine: engine, cfg: cfg.withDefaults()}
}

// ActiveWatches returns the number of watches whose goroutine is running.
func (m *Monitor) ActiveWatches() int { return int(m.active.Load()) }

// Watch samples the microphone until s ends or the watch is stopped. When
// speech is detected it releases the microphone and interrupts s with
// [ReasonBargeIn]. onSpeech runs only if that interruption ended s.
func (m *Monitor) Watch(s *Session, onSpeech func()) *Watch {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watch{cancel: cancel, done: make(chan struct{})}
	m.active.Add(1)
	go func() {
		defer close(w.done)
		defer m.active.Add(-1)
		m.run(ctx, s, onSpeech)
	}()
	return w
}

func (m *Monitor) run(ctx context.Context, s *Session, onSpeech func()) {
	lease, err := m.mic.Acquire(ctx, "monitor")
	if err != nil {
		slog.Warn("voice: interruption monitor cannot open microphone", "session", s.ID(), "err", err)
		return
	}
	defer lease.Release()

	det, err := m.engine.NewSession(vad.Config{
		WindowSize:      m.cfg.WindowSize,
		SpeechThreshold: m.cfg.Threshold,
	})
	if err != nil {
		slog.Warn("voice: interruption monitor cannot start VAD", "err", err)
		return
	}
	defer det.Close()

	window := make([]byte, 2*m.cfg.WindowSize)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	frames := lease.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			pcm := f.Data
			if f.Channels > 1 {
				pcm = audio.Downmix16(pcm, f.Channels)
			}
			slide(window, pcm)
		case <-ticker.C:
			ev, err := det.ProcessFrame(window)
			if err != nil {
				slog.Warn("voice: interruption monitor stopped", "err", err)
				return
			}
			if !ev.IsSpeech() {
				continue
			}
			lease.Release()
			if !s.interrupt(ReasonBargeIn) {
				slog.Debug("voice: speech after playback ended", "session", s.ID())
				return
			}
			slog.Info("voice: user spoke over playback", "session", s.ID(), "level", ev.Level)
			if onSpeech != nil {
				onSpeech()
			}
			return
		}
	}
}

// slide shifts pcm into the tail of window, dropping the oldest samples.
func slide(window, pcm []byte) {
	pcm = pcm[:len(pcm)&^1]
	if len(pcm) >= len(window) {
		copy(window, pcm[len(pcm)-len(window):])
		return
	}
	copy(window, window[len(pcm):])
	copy(window[len(window)-len(pcm):], pcm)
}

// Watch is a running interruption watch.
type Watch struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop ends the watch and waits until its microphone lease is released.
// Safe to call more than once.
func (w *Watch) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}

// Done is closed when the watch has ended.
func (w *Watch) Done() <-chan struct{} { return w.done }
