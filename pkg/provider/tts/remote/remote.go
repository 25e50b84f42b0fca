// Package remote implements tts.Provider against a Pettry server's speech
// endpoint. It is what the remote playback strategy uses when the process
// that plays the audio is not the one that holds the ElevenLabs key, such
// as the pettry-voice client.
//
// Synthesis is batch: one POST /api/speech per reply, answered with a WAV
// body. The PCM is split into fixed-size chunks on the returned clip so a
// speaker can start while later chunks are still being copied.
//
//	p, _ := remote.New("http://localhost:8080", remote.WithTimeout(10*time.Second))
//	clip, err := p.Synthesize(ctx, reply, types.VoiceProfile{})
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	speechEndpoint = "/api/speech"
	voicesEndpoint = "/api/speech/voices"
	defaultTimeout = 30 * time.Second

	// pcmChunkSize is the size of each PCM chunk emitted on the clip.
	pcmChunkSize = 4096

	// maxBody caps the size of an accepted WAV response.
	maxBody = 32 << 20
)

// Option is a functional option for configuring a remote Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider is a client for a Pettry speech endpoint.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider that talks to the server at baseURL
// (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SpeechRequest is the JSON body of POST /api/speech.
type SpeechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError reports a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: server returned %d", e.Code)
	}
	return fmt.Sprintf("remote: server returned %d: %s", e.Code, e.Message)
}

// Synthesize requests audio for text and returns it as a clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (*audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	body, err := json.Marshal(SpeechRequest{Text: text, VoiceID: voice.ID})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+speechEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: synthesize: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("remote: read audio: %w", err)
	}
	format, pcm, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}

	ch := make(chan []byte, len(pcm)/pcmChunkSize+1)
	for off := 0; off < len(pcm); off += pcmChunkSize {
		end := min(off+pcmChunkSize, len(pcm))
		ch <- pcm[off:end]
	}
	close(ch)
	return &audio.Clip{Audio: ch, Format: format}, nil
}

// voiceEntry is one element of GET /api/speech/voices.
type voiceEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

// ListVoices returns the voices the server can synthesize with.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: list voices: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var entries []voiceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("remote: decode voices: %w", err)
	}
	out := make([]types.VoiceProfile, len(entries))
	for i, e := range entries {
		out[i] = types.VoiceProfile{ID: e.ID, Name: e.Name, Language: e.Language, Provider: "remote"}
	}
	return out, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var er ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&er)
	return &StatusError{Code: resp.StatusCode, Message: er.Error}
}
