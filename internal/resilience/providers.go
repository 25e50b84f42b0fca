package resilience

import (
	"context"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/provider/vision"
	"github.com/MrWong99/pettry/pkg/types"
)

var (
	_ llm.Provider    = (*LLMFallback)(nil)
	_ vision.Provider = (*VisionFallback)(nil)
	_ stt.Provider    = (*STTFallback)(nil)
	_ tts.Provider    = (*TTSFallback)(nil)
)

// LLMFallback is an [llm.Provider] that fails over across backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. cfg.Kind defaults to "llm".
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary's capabilities; they are static and do
// not take part in failover.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.Primary().Capabilities()
}

// VisionFallback is a [vision.Provider] that fails over across backends.
type VisionFallback struct {
	*FallbackGroup[vision.Provider]
}

// NewVisionFallback creates a [VisionFallback]. cfg.Kind defaults to
// "vision".
func NewVisionFallback(primary vision.Provider, primaryName string, cfg FallbackConfig) *VisionFallback {
	if cfg.Kind == "" {
		cfg.Kind = "vision"
	}
	return &VisionFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Analyze describes the image with the first healthy backend.
func (f *VisionFallback) Analyze(ctx context.Context, req vision.Request) (string, error) {
	return Call(ctx, f.FallbackGroup, func(p vision.Provider) (string, error) {
		return p.Analyze(ctx, req)
	})
}

// STTFallback is an [stt.Provider] that fails over across backends. Only
// opening the stream is covered; a session that fails later reports on its
// own Errors channel.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

// NewSTTFallback creates an [STTFallback]. cfg.Kind defaults to "stt".
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// StartStream opens a session against the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(ctx, f.FallbackGroup, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// TTSFallback is a [tts.Provider] that fails over across backends. Only
// starting synthesis is covered; a clip that fails mid-stream carries the
// error itself.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

// NewTTSFallback creates a [TTSFallback]. cfg.Kind defaults to "tts".
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Synthesize starts rendering text on the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*audio.Clip, error) {
	return Call(ctx, f.FallbackGroup, func(p tts.Provider) (*audio.Clip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices lists the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return Call(ctx, f.FallbackGroup, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
