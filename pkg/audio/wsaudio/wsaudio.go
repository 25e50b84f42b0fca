// Package wsaudio serves a browser's microphone, speaker and speech
// synthesizer over one WebSocket connection.
//
// The browser streams its microphone as binary PCM16 frames whenever it has
// access to one; frames that arrive while no capture stream is open are
// discarded. Everything else is JSON text frames of type [Message]:
//
//	client → server: listen, idle, say, playback_end, speech_end, voices, mic_error
//	server → client: mode, partial, utterance, reply, completed, interrupted,
//	                 failed, warning, speak, audio, audio_end, stop
//
// Remote playback sends an "audio" header, binary PCM chunks and "audio_end";
// the browser answers "playback_end" once the last sample was heard.
// On-device playback sends "speak" and the browser answers "speech_end".
// Either is cancelled with "stop".
//
// A [Conn] is an [audio.Microphone], an [audio.Speaker] and a
// [voice.Synthesizer] at the same time; the voice subsystem drives all three.
package wsaudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/voice"
)

var (
	_ audio.Microphone  = (*Conn)(nil)
	_ audio.Speaker     = (*Conn)(nil)
	_ voice.Synthesizer = (*Conn)(nil)
)

// Message types.
const (
	TypeListen      = "listen"
	TypeIdle        = "idle"
	TypeSay         = "say"
	TypePlaybackEnd = "playback_end"
	TypeSpeechEnd   = "speech_end"
	TypeVoices      = "voices"
	TypeMicError    = "mic_error"

	TypeMode        = "mode"
	TypePartial     = "partial"
	TypeUtterance   = "utterance"
	TypeReply       = "reply"
	TypeCompleted   = "completed"
	TypeInterrupted = "interrupted"
	TypeFailed      = "failed"
	TypeWarning     = "warning"
	TypeSpeak       = "speak"
	TypeAudio       = "audio"
	TypeAudioEnd    = "audio_end"
	TypeStop        = "stop"
)

// Microphone error codes a browser reports when access is refused.
var permissionCodes = map[string]bool{
	"permission_denied": true,
	"not-allowed":       true,
	"NotAllowedError":   true,
}

const (
	defaultSampleRate   = 16000
	defaultWriteTimeout = 5 * time.Second
	defaultVoicesWait   = 500 * time.Millisecond
	controlBuffer       = 16
	micBuffer           = 64
	readLimit           = 1 << 20
)

// Message is one JSON frame in either direction. Only the fields relevant
// to Type are set.
type Message struct {
	Type string `json:"type"`

	// ID pairs speak/audio with their speech_end/playback_end and stop.
	ID uint64 `json:"id,omitempty"`

	Text   string `json:"text,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`

	Voice  *voice.DeviceVoice  `json:"voice,omitempty"`
	Voices []voice.DeviceVoice `json:"voices,omitempty"`
	Rate   float64             `json:"rate,omitempty"`
	Pitch  float64             `json:"pitch,omitempty"`
	Volume float64             `json:"volume,omitempty"`

	SampleRate int `json:"sampleRate,omitempty"`
	Channels   int `json:"channels,omitempty"`

	// Data carries event specific payloads such as recommended products.
	Data any `json:"data,omitempty"`
}

// Option configures a [Conn].
type Option func(*Conn)

// WithInputFormat sets the format of the browser's microphone frames.
// Defaults to 16 kHz mono.
func WithInputFormat(f audio.Format) Option {
	return func(c *Conn) { c.input = f }
}

// WithWriteTimeout bounds every write. Defaults to 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// WithVoicesWait is how long Voices waits for the browser's voice list
// when none has arrived yet. Defaults to 500ms.
func WithVoicesWait(d time.Duration) Option {
	return func(c *Conn) { c.voicesWait = d }
}

// Conn is one browser voice connection. Run must be called for anything to
// be received.
//
// Conn is safe for concurrent use.
type Conn struct {
	ws           *websocket.Conn
	input        audio.Format
	writeTimeout time.Duration
	voicesWait   time.Duration

	controls chan Message
	done     chan struct{}
	nextID   atomic.Uint64

	mu         sync.Mutex
	mic        *micStream
	micErr     string
	voices     []voice.DeviceVoice
	voicesSeen chan struct{}
	pending    map[uint64]chan Message
	finished   bool
}

// New wraps an accepted WebSocket.
func New(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:           ws,
		input:        audio.Format{SampleRate: defaultSampleRate, Channels: 1},
		writeTimeout: defaultWriteTimeout,
		voicesWait:   defaultVoicesWait,
		controls:     make(chan Message, controlBuffer),
		done:         make(chan struct{}),
		voicesSeen:   make(chan struct{}),
		pending:      make(map[uint64]chan Message),
	}
	for _, o := range opts {
		o(c)
	}
	if c.input.SampleRate <= 0 {
		c.input.SampleRate = defaultSampleRate
	}
	if c.input.Channels <= 0 {
		c.input.Channels = 1
	}
	ws.SetReadLimit(readLimit)
	return c
}

// Controls delivers listen, idle and say requests. Closed when Run returns.
func (c *Conn) Controls() <-chan Message { return c.controls }

// Done is closed when Run returns.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send writes msg as a JSON text frame.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.ws, msg); err != nil {
		return fmt.Errorf("wsaudio: send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Conn) sendBinary(ctx context.Context, data []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("wsaudio: send audio: %w", err)
	}
	return nil
}

// Run reads from the browser until ctx is done or the connection closes.
// A normal close by the browser returns nil.
func (c *Conn) Run(ctx context.Context) error {
	defer c.finish()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wsaudio: read: %w", err)
		}
		if typ == websocket.MessageBinary {
			c.deliverFrame(data)
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("wsaudio: ignoring malformed message", "err", err)
			continue
		}
		if err := c.dispatch(ctx, msg); err != nil {
			return nil
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, msg Message) error {
	switch msg.Type {
	case TypeListen, TypeIdle, TypeSay:
		select {
		case c.controls <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	case TypePlaybackEnd, TypeSpeechEnd:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case TypeVoices:
		c.mu.Lock()
		c.voices = append([]voice.DeviceVoice(nil), msg.Voices...)
		select {
		case <-c.voicesSeen:
		default:
			close(c.voicesSeen)
		}
		c.mu.Unlock()
	case TypeMicError:
		c.mu.Lock()
		c.micErr = msg.Code
		if c.mic != nil {
			c.mic.closeLocked()
		}
		c.mu.Unlock()
		slog.Info("wsaudio: browser reported microphone error", "code", msg.Code)
	default:
		slog.Debug("wsaudio: ignoring unknown message", "type", msg.Type)
	}
	return nil
}

func (c *Conn) finish() {
	c.mu.Lock()
	c.finished = true
	if c.mic != nil {
		c.mic.closeLocked()
	}
	c.pending = make(map[uint64]chan Message)
	c.mu.Unlock()
	close(c.controls)
	close(c.done)
}

// Close closes the WebSocket. Run returns shortly after.
func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "bye")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("wsaudio: close: %w", err)
	}
	return nil
}

// await registers a reply slot for a new exchange.
func (c *Conn) await() (uint64, chan Message, error) {
	id := c.nextID.Add(1)
	ch := make(chan Message, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return 0, nil, audio.ErrClosed
	}
	c.pending[id] = ch
	return id, ch, nil
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// stop tells the browser to abandon exchange id. It uses a fresh context
// because the caller's is usually already cancelled.
func (c *Conn) stop(id uint64) {
	if err := c.Send(context.Background(), Message{Type: TypeStop, ID: id}); err != nil {
		slog.Debug("wsaudio: stop not delivered", "id", id, "err", err)
	}
}

// wait blocks until the browser answers exchange id.
func (c *Conn) wait(ctx context.Context, id uint64, ch <-chan Message) (Message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		c.forget(id)
		c.stop(id)
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, audio.ErrClosed
	}
}
