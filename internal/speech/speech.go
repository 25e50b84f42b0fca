// Package speech is the server side of remote playback: it synthesizes a
// reply with the configured text-to-speech provider and returns it as a
// WAV file the client can play.
package speech

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/pettry/internal/observe"
	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/types"
)

// DefaultMaxChars bounds the text of one synthesis request.
const DefaultMaxChars = 5000

// Option configures a Service.
type Option func(*Service)

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(id string) Option {
	return func(s *Service) { s.defaultVoice = id }
}

// WithMaxChars overrides DefaultMaxChars.
func WithMaxChars(n int) Option {
	return func(s *Service) { s.maxChars = n }
}

// WithMetrics records synthesis latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service synthesizes speech.
type Service struct {
	tts          tts.Provider
	defaultVoice string
	maxChars     int
	metrics      *observe.Metrics
}

// New returns a Service over p.
func New(p tts.Provider, opts ...Option) *Service {
	s := &Service{tts: p, maxChars: DefaultMaxChars}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize speaks text with voiceID, or the default voice when empty,
// and returns a WAV file.
func (s *Service) Synthesize(ctx context.Context, text, voiceID string) (wav []byte, err error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, fault.Wrap(fault.Validation, "Nothing to say.", tts.ErrEmptyText)
	case len([]rune(text)) > s.maxChars:
		return nil, fault.New(fault.Validation, "Text too long. Maximum is %d characters.", s.maxChars)
	}
	if voiceID == "" {
		voiceID = s.defaultVoice
	}

	ctx, span := observe.StartSpan(ctx, "speech.synthesize")
	start := time.Now()
	defer func() {
		observe.EndSpan(span, err)
		if s.metrics != nil {
			observe.RecordDuration(ctx, s.metrics.SynthesisDuration, start, err)
		}
	}()

	clip, err := s.tts.Synthesize(ctx, text, types.VoiceProfile{ID: voiceID})
	if err == nil {
		var pcm []byte
		if pcm, err = tts.Collect(ctx, clip); err == nil {
			if wav, err = audio.EncodeWAV(pcm, clip.Format); err == nil {
				return wav, nil
			}
		}
	}
	if errors.Is(err, tts.ErrEmptyText) {
		return nil, fault.Wrap(fault.Validation, "Nothing to say.", err)
	}
	return nil, fault.Wrap(fault.Transient, "Failed to synthesize speech. Please try again.", err)
}

// Voices lists the provider's voices.
func (s *Service) Voices(ctx context.Context) ([]types.VoiceProfile, error) {
	vs, err := s.tts.ListVoices(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.Transient, "Could not load voices.", err)
	}
	return vs, nil
}
