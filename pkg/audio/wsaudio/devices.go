package wsaudio

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/voice"
)

// micStream is an open capture stream. Its frames channel is only sent to
// and closed under Conn.mu.
type micStream struct {
	conn    *Conn
	frames  chan audio.AudioFrame
	samples int64
	closed  bool
	stop    func() bool
}

func (s *micStream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *micStream) Close() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *micStream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
	if s.conn.mic == s {
		s.conn.mic = nil
	}
	if s.stop != nil {
		s.stop()
	}
}

// Open starts delivering the browser's microphone frames. It fails with
// [audio.ErrPermissionDenied] after the browser reported that access was
// refused. A stream that is still open is closed first.
func (c *Conn) Open(ctx context.Context) (audio.InputStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return nil, audio.ErrClosed
	}
	if c.micErr != "" {
		if permissionCodes[c.micErr] {
			return nil, audio.ErrPermissionDenied
		}
		return nil, fmt.Errorf("wsaudio: microphone unavailable: %s", c.micErr)
	}
	if c.mic != nil {
		c.mic.closeLocked()
	}
	s := &micStream{conn: c, frames: make(chan audio.AudioFrame, micBuffer)}
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	c.mic = s
	return s, nil
}

// deliverFrame hands one binary frame to the open stream. Frames are dropped
// when nobody listens or the reader falls behind. Any frame proves the
// browser has a working microphone again.
func (c *Conn) deliverFrame(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.micErr = ""
	s := c.mic
	if s == nil || len(data) < 2 {
		return
	}
	bytesPerSample := 2 * max(c.input.Channels, 1)
	ts := time.Duration(s.samples) * time.Second / time.Duration(c.input.SampleRate)
	s.samples += int64(len(data) / bytesPerSample)
	frame := audio.AudioFrame{
		Data:       slices.Clone(data),
		SampleRate: c.input.SampleRate,
		Channels:   c.input.Channels,
		Timestamp:  ts,
	}
	select {
	case s.frames <- frame:
	default:
		slog.Debug("wsaudio: microphone frame dropped, reader too slow")
	}
}

// Play streams clip to the browser and waits until the browser reports the
// last sample was heard. On cancellation the browser is told to stop and
// ctx.Err() is returned.
func (c *Conn) Play(ctx context.Context, clip *audio.Clip) error {
	id, reply, err := c.await()
	if err != nil {
		return err
	}
	abort := func(err error) error {
		c.forget(id)
		c.stop(id)
		go audio.Drain(clip.Audio)
		return err
	}

	header := Message{Type: TypeAudio, ID: id, SampleRate: clip.Format.SampleRate, Channels: clip.Format.Channels}
	if err := c.Send(ctx, header); err != nil {
		return abort(err)
	}
	for {
		var (
			chunk []byte
			ok    bool
		)
		select {
		case <-ctx.Done():
			return abort(ctx.Err())
		case <-c.done:
			go audio.Drain(clip.Audio)
			return audio.ErrClosed
		case chunk, ok = <-clip.Audio:
		}
		if !ok {
			break
		}
		if err := c.sendBinary(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			return abort(err)
		}
	}
	if err := clip.Err(); err != nil {
		c.forget(id)
		c.stop(id)
		return err
	}
	if err := c.Send(ctx, Message{Type: TypeAudioEnd, ID: id}); err != nil {
		c.forget(id)
		return err
	}
	msg, err := c.wait(ctx, id, reply)
	if err != nil {
		return err
	}
	if msg.Error != "" {
		return fmt.Errorf("wsaudio: browser playback failed: %s", msg.Error)
	}
	return nil
}

// Voices returns the voices the browser announced. When none arrived yet it
// waits briefly for the first announcement; an empty list is not an error.
func (c *Conn) Voices(ctx context.Context) ([]voice.DeviceVoice, error) {
	timer := time.NewTimer(c.voicesWait)
	defer timer.Stop()
	select {
	case <-c.voicesSeen:
	case <-timer.C:
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.voices), nil
}

// Speak asks the browser's speech synthesizer to say u and waits for it to
// finish.
func (c *Conn) Speak(ctx context.Context, u voice.DeviceUtterance) error {
	id, reply, err := c.await()
	if err != nil {
		return err
	}
	msg := Message{
		Type:   TypeSpeak,
		ID:     id,
		Text:   u.Text,
		Rate:   u.Rate,
		Pitch:  u.Pitch,
		Volume: u.Volume,
	}
	if u.Voice != (voice.DeviceVoice{}) {
		v := u.Voice
		msg.Voice = &v
	}
	if err := c.Send(ctx, msg); err != nil {
		c.forget(id)
		return err
	}
	ans, err := c.wait(ctx, id, reply)
	if err != nil {
		return err
	}
	if ans.Error != "" {
		return fmt.Errorf("wsaudio: browser speech failed: %s", ans.Error)
	}
	return nil
}
