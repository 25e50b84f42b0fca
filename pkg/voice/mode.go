// Package voice implements Pettry's voice interaction loop: speech capture,
// spoken replies and barge-in.
//
// Four components cooperate:
//
//   - [Capture] streams the microphone into a speech recogniser and emits
//     finalized utterances.
//   - [Playback] turns a reply into audible speech through a [Strategy]
//     and tracks the single active [Session].
//   - [Monitor] samples microphone energy while a session is playing and
//     reports when the user starts talking over it.
//   - [Coordinator] owns the current [Mode] and is the only component that
//     starts or stops the other three. It guarantees that capture and
//     playback are never active at the same time.
//
// Everything observable is published as an [Event] on the coordinator's
// event channel. [Assistant] binds a coordinator to a chat backend so each
// utterance is answered out loud.
package voice

// Mode is the coordinator's interaction mode. Exactly one is active.
type Mode int

const (
	// Idle: neither capturing nor speaking.
	Idle Mode = iota
	// Listening: capture is active.
	Listening
	// Speaking: a playback session is active and capture is stopped.
	Speaking
)

// String returns the lower-case mode name used in events and logs.
func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of String.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "idle":
		return Idle, true
	case "listening":
		return Listening, true
	case "speaking":
		return Speaking, true
	default:
		return Idle, false
	}
}
