// Package mock provides in-memory implementations of [audio.Microphone],
// [audio.Speaker] and [player.Sink] for unit tests.
//
// All mocks are safe for concurrent use. They record calls and expose fields
// that tests set to control behaviour.
//
// Typical usage:
//
//	mic := mock.NewMicrophone()
//	stream, _ := mic.Open(ctx)
//	mic.Emit(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//	if mic.OpenCount() != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/audio/player"
)

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
	_ player.Sink      = (*Sink)(nil)
)

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone]. Frames passed to Emit are
// delivered to every stream that is open at the time.
type Microphone struct {
	mu sync.Mutex

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error

	streams   map[*Stream]struct{}
	openCalls int
	maxOpen   int
}

// NewMicrophone returns a ready Microphone.
func NewMicrophone() *Microphone {
	return &Microphone{streams: make(map[*Stream]struct{})}
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &Stream{mic: m, frames: make(chan audio.AudioFrame, 64), done: make(chan struct{})}
	m.streams[s] = struct{}{}
	m.maxOpen = max(m.maxOpen, len(m.streams))
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// Emit delivers frame to all open streams. Frames for full streams are
// dropped.
func (m *Microphone) Emit(frame audio.AudioFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.streams {
		select {
		case s.frames <- frame:
		default:
		}
	}
}

// OpenCount returns the number of streams currently open.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// OpenCalls returns how many times Open was called.
func (m *Microphone) OpenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCalls
}

// MaxOpen returns the highest number of simultaneously open streams seen.
func (m *Microphone) MaxOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

// Stream is the [audio.InputStream] returned by [Microphone.Open].
type Stream struct {
	mic    *Microphone
	frames chan audio.AudioFrame
	done   chan struct{}
	once   sync.Once
}

// Frames implements [audio.InputStream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Close implements [audio.InputStream].
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.mic.mu.Lock()
		delete(s.mic.streams, s)
		close(s.frames)
		close(s.done)
		s.mic.mu.Unlock()
	})
	return nil
}

// ─── Speaker ─────────────────────────────────────────────────────────────────

// Speaker is a mock [audio.Speaker]. By default Play consumes the clip and
// returns immediately. Set Hold to make Play block after consuming the clip
// until [Speaker.Finish] is called or ctx is cancelled, simulating audio that
// is still being heard.
type Speaker struct {
	mu sync.Mutex

	// Hold keeps Play blocked until Finish.
	Hold bool

	// PlayErr, when non-nil, is returned by Play after consuming the clip.
	PlayErr error

	chunks     [][]byte
	plays      int
	active     int
	maxActive  int
	finish     chan struct{}
	playingSig chan struct{}
}

// Play implements [audio.Speaker].
func (s *Speaker) Play(ctx context.Context, clip *audio.Clip) error {
	s.mu.Lock()
	s.plays++
	s.active++
	s.maxActive = max(s.maxActive, s.active)
	if s.finish == nil {
		s.finish = make(chan struct{})
	}
	finish := s.finish
	if s.playingSig != nil {
		close(s.playingSig)
		s.playingSig = nil
	}
	hold, playErr := s.Hold, s.PlayErr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(clip.Audio)
			return ctx.Err()
		case chunk, ok := <-clip.Audio:
			if !ok {
				if err := clip.Err(); err != nil {
					return err
				}
				if playErr != nil {
					return playErr
				}
				if !hold {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-finish:
					return nil
				}
			}
			s.mu.Lock()
			s.chunks = append(s.chunks, chunk)
			s.mu.Unlock()
		}
	}
}

// Playing returns a channel closed when the next Play call starts.
func (s *Speaker) Playing() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playingSig == nil {
		s.playingSig = make(chan struct{})
	}
	return s.playingSig
}

// Finish releases every Play blocked by Hold.
func (s *Speaker) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finish != nil {
		close(s.finish)
		s.finish = nil
	}
}

// Chunks returns a copy of every chunk received.
func (s *Speaker) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Plays returns the number of Play calls.
func (s *Speaker) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

// MaxActive returns the highest number of overlapping Play calls seen.
func (s *Speaker) MaxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock [player.Sink]. Drain returns immediately unless Hold is set,
// in which case it blocks until Release or ctx cancellation.
type Sink struct {
	mu sync.Mutex

	// Hold makes Drain block until Release.
	Hold bool

	// WriteErr, when non-nil, is returned by Write.
	WriteErr error

	written  [][]byte
	flushes  int
	drains   int
	released chan struct{}
}

// Write implements [player.Sink].
func (s *Sink) Write(chunk []byte, _ audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.written = append(s.written, chunk)
	return nil
}

// Flush implements [player.Sink].
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Drain implements [player.Sink].
func (s *Sink) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.drains++
	if !s.Hold {
		s.mu.Unlock()
		return nil
	}
	if s.released == nil {
		s.released = make(chan struct{})
	}
	rel := s.released
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rel:
		return nil
	}
}

// Release unblocks pending Drain calls.
func (s *Sink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released != nil {
		close(s.released)
		s.released = nil
	}
}

// Written returns a copy of every chunk written.
func (s *Sink) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.written))
	copy(out, s.written)
	return out
}

// Flushes returns the number of Flush calls.
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Drains returns the number of Drain calls.
func (s *Sink) Drains() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drains
}
