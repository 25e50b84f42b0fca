// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a window-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own smoothing and
// speech-state history so that independent audio streams never influence
// each other.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, which makes it suitable for polling loops such as the interruption
// monitor that checks the microphone while a reply is being spoken.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session. Thresholds are expressed in
// the engine's native scale; see each Engine's documentation.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// WindowSize is the number of mono int16 samples per frame. Engines that
	// work in the frequency domain require a power of two.
	WindowSize int

	// SpeechThreshold is the level above which a window counts as speech.
	SpeechThreshold float64
}

// EventType enumerates detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}

// Event is the detection result for one window.
type Event struct {
	Type EventType

	// Level is the score the decision was made on, in the engine's scale.
	Level float64
}

// IsSpeech reports whether the window was classified as speech.
func (e Event) IsSpeech() bool {
	return e.Type == SpeechStart || e.Type == SpeechContinue
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one window of little-endian mono PCM16 and
	// returns the detection result. Returns an error if the frame does not
	// hold exactly WindowSize samples or the session is closed.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session ready to accept frames. Returns an error
	// if the configuration is not supported.
	NewSession(cfg Config) (SessionHandle, error)
}
