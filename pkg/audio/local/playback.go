package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/audio/player"
)

var _ player.Sink = (*speakerSink)(nil)

// Play implements [audio.Speaker]. It blocks until every sample was handed
// to the sound card, ctx is cancelled, a newer clip starts or the clip
// fails.
func (d *Device) Play(ctx context.Context, clip *audio.Clip) error {
	if clip.Format.SampleRate <= 0 || clip.Format.Channels <= 0 {
		go audio.Drain(clip.Audio)
		return fmt.Errorf("local: invalid clip format %s", clip.Format)
	}
	return d.player.Play(ctx, clip)
}

// speakerSink feeds a malgo playback device. The device is opened on the
// first write and reopened when the clip format changes.
type speakerSink struct {
	d *Device
	q *pcmQueue

	mu     sync.Mutex
	dev    *malgo.Device
	format audio.Format
}

func newSpeakerSink(d *Device) *speakerSink {
	return &speakerSink{d: d, q: newPCMQueue()}
}

// Write implements [player.Sink].
func (s *speakerSink) Write(chunk []byte, f audio.Format) error {
	if err := s.ensure(f); err != nil {
		return err
	}
	s.q.push(chunk)
	return nil
}

// Flush implements [player.Sink].
func (s *speakerSink) Flush() error {
	s.q.discard()
	return nil
}

// Drain implements [player.Sink].
func (s *speakerSink) Drain(ctx context.Context) error {
	return s.q.wait(ctx)
}

func (s *speakerSink) ensure(f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil && s.format == f {
		return nil
	}
	s.closeLocked()
	s.q.discard()
	dev, err := s.d.initDevice(malgo.Playback, f, func(output, _ []byte, _ uint32) {
		s.q.fill(output)
	})
	if err != nil {
		return fmt.Errorf("local: open speaker: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("local: start speaker: %w", err)
	}
	s.dev, s.format = dev, f
	return nil
}

func (s *speakerSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *speakerSink) closeLocked() {
	if s.dev == nil {
		return
	}
	_ = s.dev.Stop()
	s.dev.Uninit()
	s.dev = nil
}

// pcmQueue buffers PCM between the player and the device callback.
type pcmQueue struct {
	mu     sync.Mutex
	buf    []byte
	waiter chan struct{} // closed once buf empties
}

func newPCMQueue() *pcmQueue {
	return &pcmQueue{}
}

func (q *pcmQueue) push(pcm []byte) {
	q.mu.Lock()
	q.buf = append(q.buf, pcm...)
	q.mu.Unlock()
}

// discard drops everything not yet played.
func (q *pcmQueue) discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = nil
	q.notifyLocked()
}

// fill copies queued audio into out and pads the remainder with silence.
func (q *pcmQueue) fill(out []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := copy(out, q.buf)
	q.buf = q.buf[n:]
	clear(out[n:])
	if len(q.buf) == 0 {
		q.notifyLocked()
	}
}

func (q *pcmQueue) notifyLocked() {
	if q.waiter != nil {
		close(q.waiter)
		q.waiter = nil
	}
}

// wait blocks until the queue is empty or ctx is done.
func (q *pcmQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.waiter == nil {
		q.waiter = make(chan struct{})
	}
	w := q.waiter
	q.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
