// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider wraps a streaming recognition service and exposes a uniform
// session API: raw PCM goes in through [SessionHandle.SendAudio], interim and
// final [types.Transcript] values come out on separate channels, and
// recognition problems are reported on [SessionHandle.Errors].
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/pettry/pkg/types"
)

// ErrNoSpeech is reported on [SessionHandle.Errors] when the recogniser
// finished a segment without hearing any words. It is informational; the
// capture controller ignores it.
var ErrNoSpeech = errors.New("stt: no speech detected")

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints of a new
// session.
type StreamConfig struct {
	// SampleRate in Hz. 16000 is the recommended rate for recognition.
	SampleRate int

	// Channels is 1 for mono. Most providers reject anything else.
	Channels int

	// Language is a BCP 47 tag (e.g. "en-US"). Empty lets the provider
	// choose.
	Language string

	// Interim requests interim (non-final) results on Partials.
	Interim bool

	// Keywords bias recognition towards product and breed names.
	Keywords []types.KeywordBoost
}

// SessionHandle is an open recognition stream.
//
// Callers must call Close when done. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one chunk of PCM matching the StreamConfig format.
	// It returns ErrSessionClosed after Close.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits authoritative transcripts. Closed when the session ends.
	Finals() <-chan types.Transcript

	// Errors emits recognition problems, including ErrNoSpeech. Sends are
	// non-blocking; errors are dropped when nobody is reading. Closed when
	// the session ends.
	Errors() <-chan error

	// Close ends the session and releases its resources. After Close returns
	// all channels are closed. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a session ready to accept audio. The caller owns the
	// handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
