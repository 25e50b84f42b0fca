// Package deepgram implements stt.Provider on top of the Deepgram live
// transcription WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/pettry/pkg/provider/stt"
	"github.com/MrWong99/pettry/pkg/types"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en-US"
	defaultSampleRate  = 16000
	defaultEndpointing = 300 * time.Millisecond
	defaultDialTimeout = 10 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithDialTimeout bounds the WebSocket handshake. Defaults to 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. A non-empty
// StreamConfig.Language takes precedence.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the sample rate used when StreamConfig leaves it zero.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpointing sets how much trailing silence ends an utterance.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) { p.endpointing = d }
}

// WithEndpoint overrides the WebSocket URL. Used to point at a proxy or a
// test server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider backed by Deepgram.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing time.Duration
	dialTimeout time.Duration
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		endpointing: defaultEndpointing,
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a live session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	dialCtx, cancelDial := context.WithTimeout(ctx, p.dialTimeout)
	defer cancelDial()
	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("deepgram: dial: invalid API key: %w", err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	// The session outlives the dial context; it ends on Close.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		errs:     make(chan error, 8),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop(sctx)
	go s.writeLoop(sctx)
	go func() {
		s.wg.Wait()
		close(s.errs)
	}()
	return s, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.Interim))
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// message is the subset of Deepgram's server messages the session reads.
type message struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn   *websocket.Conn
	cancel context.CancelFunc

	partials chan types.Transcript
	finals   chan types.Transcript
	errs     chan error
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }
func (s *session) Errors() <-chan error              { return s.errs }

// Close asks Deepgram to flush, waits briefly for the final results and then
// tears the connection down.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.conn.Write(wctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()

		waited := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(2 * time.Second):
			s.cancel()
			<-waited
		}
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.report(fmt.Errorf("deepgram: write audio: %w", err))
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)
	defer close(s.partials)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st != websocket.StatusNormalClosure && st != -1 {
				s.report(fmt.Errorf("deepgram: connection closed: %w", err))
			} else if st == -1 && ctx.Err() == nil && !s.closing() {
				s.report(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		t, ok, evErr := parseMessage(data)
		switch {
		case evErr != nil:
			s.report(evErr)
		case !ok:
		case t.IsFinal:
			select {
			case s.finals <- t:
			case <-ctx.Done():
				return
			}
		default:
			select {
			case s.partials <- t:
			default:
				// interim results are superseded by the next one
			}
		}
	}
}

func (s *session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// parseMessage interprets one Deepgram message. It returns a transcript with
// ok=true, a recognition error (stt.ErrNoSpeech for a final result without
// words), or ok=false for messages that carry nothing of interest.
func parseMessage(data []byte) (types.Transcript, bool, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return types.Transcript{}, false, nil
	}

	switch m.Type {
	case "Results":
	case "Error":
		return types.Transcript{}, false, fmt.Errorf("deepgram: server error: %s", m.Description)
	default:
		return types.Transcript{}, false, nil
	}
	if len(m.Channel.Alternatives) == 0 {
		return types.Transcript{}, false, nil
	}

	alt := m.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		if m.IsFinal && m.SpeechFinal {
			return types.Transcript{}, false, stt.ErrNoSpeech
		}
		return types.Transcript{}, false, nil
	}

	return types.Transcript{
		Text:       text,
		IsFinal:    m.IsFinal,
		Confidence: alt.Confidence,
		Timestamp:  time.Duration(m.Start * float64(time.Second)),
		Duration:   time.Duration(m.Duration * float64(time.Second)),
	}, true, nil
}
