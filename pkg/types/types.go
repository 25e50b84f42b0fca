// Package types defines the data structures shared between Pettry's provider
// packages, the voice subsystem and the shop services.
//
// Only types that cross package boundaries live here. Each service package
// keeps its own domain types next to the code that owns them.
package types

import "time"

// Role values used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcript is a speech-to-text result. Interim and final results share the
// type and are told apart by IsFinal.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal marks an authoritative result. Interim results may be revised
	// by later ones; final results never are.
	IsFinal bool

	// Confidence is in the range 0.0–1.0. Zero when the provider does not
	// report one.
	Confidence float64

	// Timestamp is the start of the speech relative to the stream start.
	Timestamp time.Duration

	// Duration is the length of the recognised speech.
	Duration time.Duration
}

// Message is one turn of a conversation sent to a language model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the plain-text body of the turn.
	Content string
}

// VoiceProfile identifies a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name (e.g. "Samantha").
	Name string

	// Language is a BCP 47 tag such as "en-US". Empty if unknown.
	Language string

	// Provider names the synthesizer the voice belongs to.
	Provider string

	// SpeedFactor scales the speaking rate; 1.0 is the provider default.
	SpeedFactor float64
}

// ModelCapabilities describes what a language or vision model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the maximum completion length.
	MaxOutputTokens int

	// SupportsVision reports whether the model accepts image input.
	SupportsVision bool

	// SupportsStreaming reports whether streaming completions are available.
	SupportsStreaming bool
}

// KeywordBoost biases speech recognition towards a term, such as a product
// or breed name the recogniser would otherwise mishear.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
