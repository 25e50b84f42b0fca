package voice

import (
	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/provider/vad"
)

func NewCaptureForTest(mic audio.Microphone, provider stt.Provider, cfg CaptureConfig) (*Capture, <-chan Event) {
	bus := newEventBus(64)
	return newCapture(NewSharedMicrophone(mic), provider, cfg, bus), bus.ch
}

func NewMonitorForTest(mic audio.Microphone, engine vad.Engine, cfg MonitorConfig) *Monitor {
	return newMonitor(NewSharedMicrophone(mic), engine, cfg)
}

func (c *Coordinator) ActiveWatches() int { return c.monitor.ActiveWatches() }

func (c *Coordinator) CaptureActive() bool { return c.capture.Active() }

func (s *Session) InterruptForTest(reason string) bool { return s.interrupt(reason) }
