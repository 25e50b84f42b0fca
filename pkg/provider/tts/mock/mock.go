// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks:           [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Rachel"}},
//	}
//	clip, _ := p.Synthesize(ctx, "Hello!", types.VoiceProfile{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/types"
)

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted on every clip's Audio channel, in order.
	Chunks [][]byte

	// Format is reported on every clip. Defaults to 16 kHz mono.
	Format audio.Format

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// StreamErr, if non-nil, is recorded on the clip after the chunks.
	StreamErr error

	// Stall keeps Audio open after the chunks until ctx is cancelled,
	// simulating a backend that never finishes.
	Stall bool

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and streams Chunks on a new clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*audio.Clip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	format := p.Format
	if format.SampleRate == 0 {
		format = audio.Format{SampleRate: 16000, Channels: 1}
	}
	streamErr, stall := p.StreamErr, p.Stall
	p.mu.Unlock()

	ch := make(chan []byte)
	clip := &audio.Clip{Audio: ch, Format: format}
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			clip.SetStreamErr(streamErr)
			return
		}
		if stall {
			<-ctx.Done()
		}
	}()
	return clip, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Texts returns the text of every Synthesize call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}
