package local

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/pettry/pkg/audio"
)

const captureBuffer = 64

// Open starts the default capture device.
func (d *Device) Open(ctx context.Context) (audio.InputStream, error) {
	s := newCaptureStream(d.capture)
	dev, err := d.initDevice(malgo.Capture, d.capture, func(_, input []byte, _ uint32) {
		s.push(input)
	})
	if err != nil {
		return nil, fmt.Errorf("local: open microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("local: start microphone: %w", err)
	}
	s.release = func() {
		_ = dev.Stop()
		dev.Uninit()
	}
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	return s, nil
}

// captureStream turns device callbacks into frames. The callback runs on
// the audio thread and must never block.
type captureStream struct {
	format  audio.Format
	frames  chan audio.AudioFrame
	release func()
	stop    func() bool

	mu      sync.Mutex
	samples int64
	closed  bool
}

func newCaptureStream(f audio.Format) *captureStream {
	return &captureStream{format: f, frames: make(chan audio.AudioFrame, captureBuffer)}
}

func (s *captureStream) push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(pcm) == 0 {
		return
	}
	ts := time.Duration(s.samples) * time.Second / time.Duration(s.format.SampleRate)
	s.samples += int64(len(pcm) / (2 * s.format.Channels))
	frame := audio.AudioFrame{
		Data:       slices.Clone(pcm),
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Timestamp:  ts,
	}
	select {
	case s.frames <- frame:
	default:
		slog.Debug("local: microphone frame dropped, reader too slow")
	}
}

func (s *captureStream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
	if s.release != nil {
		s.release()
	}
	return nil
}
