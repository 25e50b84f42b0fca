// Package audio defines the audio devices the Pettry voice subsystem talks to
// and the PCM helpers shared by their implementations.
//
// The two device abstractions are:
//
//   - [Microphone] opens an [InputStream] of captured PCM frames.
//   - [Speaker] plays a streamed [Clip] and supports immediate cancellation.
//
// Implementations live in adapter packages: audio/wsaudio serves a browser
// over a WebSocket, audio/local drives the host's sound card. Both are
// interchangeable from the voice subsystem's point of view.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Microphone.Open] when the user or the
// operating system refused access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrClosed is returned when a device is used after its owner went away.
var ErrClosed = errors.New("audio: device closed")

// Microphone is a capture device. Each call to Open starts a new stream; the
// device itself does not arbitrate between concurrent streams. Exclusive
// access is enforced one layer up by the voice subsystem.
type Microphone interface {
	// Open starts capturing and returns the stream. The stream stops when
	// Close is called or ctx is cancelled.
	Open(ctx context.Context) (InputStream, error)
}

// InputStream is an open capture stream.
type InputStream interface {
	// Frames delivers captured audio. It is closed when the stream ends.
	Frames() <-chan AudioFrame

	// Close stops capturing and releases the device. Safe to call more than
	// once.
	Close() error
}

// Speaker is a playback device.
type Speaker interface {
	// Play streams clip to the device and blocks until the audio has been
	// heard in full, ctx is cancelled, or playback fails. On cancellation
	// queued audio is discarded immediately and ctx.Err() is returned.
	Play(ctx context.Context, clip *Clip) error
}
