// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one reply into a streamed [audio.Clip]. Audio starts
// flowing as soon as the backend produces it so playback can begin before
// synthesis of the whole reply has finished.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/types"
)

// ErrEmptyText is returned by Synthesize for blank input.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts rendering text with voice and returns the clip whose
	// Audio channel carries PCM in clip.Format. A non-nil error means the
	// request could not be started; failures after that are recorded with
	// clip.SetStreamErr before Audio is closed. Cancelling ctx stops
	// synthesis and closes Audio.
	//
	// A zero voice selects the provider's configured default voice.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*audio.Clip, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// Collect reads clip to the end and returns the concatenated PCM. It returns
// the clip's stream error, if any, or ctx.Err() when ctx ends first.
func Collect(ctx context.Context, clip *audio.Clip) ([]byte, error) {
	var pcm []byte
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(clip.Audio)
			return nil, ctx.Err()
		case chunk, ok := <-clip.Audio:
			if !ok {
				if err := clip.Err(); err != nil {
					return nil, err
				}
				return pcm, nil
			}
			pcm = append(pcm, chunk...)
		}
	}
}
