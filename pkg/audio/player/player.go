// Package player turns a low-level audio [Sink] into an [audio.Speaker] with
// immediate, idempotent interruption.
//
// A Player plays one [audio.Clip] at a time. Starting a new clip or calling
// [Player.Interrupt] cuts the current clip short: remaining chunks are drained
// in the background and audio already queued in the sink is flushed so that
// nothing more is heard.
package player

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/pettry/pkg/audio"
)

// ErrInterrupted is returned by [Player.Play] when the clip was cut short by
// [Player.Interrupt] or by a newer clip.
var ErrInterrupted = errors.New("player: playback interrupted")

// Compile-time interface assertion.
var _ audio.Speaker = (*Player)(nil)

// Sink is the device end of a Player. Implementations wrap a WebSocket peer
// or a sound card.
type Sink interface {
	// Write queues one chunk of PCM for output. It must not block for longer
	// than it takes to hand the chunk to the device.
	Write(chunk []byte, f audio.Format) error

	// Flush discards everything queued but not yet heard.
	Flush() error

	// Drain blocks until everything written so far has been heard or ctx is
	// cancelled.
	Drain(ctx context.Context) error
}

// Player is an [audio.Speaker] over a [Sink]. All methods are safe for
// concurrent use.
type Player struct {
	sink Sink

	mu            sync.Mutex
	cancelPlaying chan struct{} // closed to interrupt the active clip; nil when idle
	closed        bool
	done          chan struct{}
}

// New returns a Player writing to sink.
func New(sink Sink) *Player {
	return &Player{
		sink: sink,
		done: make(chan struct{}),
	}
}

// Play implements [audio.Speaker]. It returns nil when the clip has been
// heard in full, ctx.Err() on cancellation, [ErrInterrupted] when cut short
// by another caller, or the clip's stream error.
func (p *Player) Play(ctx context.Context, clip *audio.Clip) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		go audio.Drain(clip.Audio)
		return audio.ErrClosed
	}
	if p.cancelPlaying != nil {
		close(p.cancelPlaying)
	}
	cancel := make(chan struct{})
	p.cancelPlaying = cancel
	p.mu.Unlock()

	defer p.release(cancel)

	for {
		select {
		case <-ctx.Done():
			return p.abort(clip, ctx.Err())
		case <-cancel:
			return p.abort(clip, ErrInterrupted)
		case <-p.done:
			return p.abort(clip, audio.ErrClosed)
		case chunk, ok := <-clip.Audio:
			if !ok {
				if err := clip.Err(); err != nil {
					_ = p.sink.Flush()
					return err
				}
				return p.drain(ctx, cancel)
			}
			if err := p.sink.Write(chunk, clip.Format); err != nil {
				return p.abort(clip, err)
			}
		}
	}
}

// Interrupt stops the active clip, if any. Calling it while idle is a no-op.
func (p *Player) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelPlaying != nil {
		close(p.cancelPlaying)
		p.cancelPlaying = nil
	}
}

// Close interrupts playback and makes later Play calls fail with
// [audio.ErrClosed]. Close is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cancelPlaying != nil {
		close(p.cancelPlaying)
		p.cancelPlaying = nil
	}
	close(p.done)
	return nil
}

// drain waits for the sink to finish while still honouring interruption.
func (p *Player) drain(ctx context.Context, cancel chan struct{}) error {
	dctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel:
			stop()
		case <-p.done:
			stop()
		case <-dctx.Done():
		}
	}()

	err := p.sink.Drain(dctx)
	if err == nil {
		return nil
	}
	_ = p.sink.Flush()
	select {
	case <-cancel:
		return ErrInterrupted
	case <-p.done:
		return audio.ErrClosed
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Player) abort(clip *audio.Clip, reason error) error {
	go audio.Drain(clip.Audio)
	_ = p.sink.Flush()
	return reason
}

// release clears the active clip marker if it still belongs to cancel.
func (p *Player) release(cancel chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelPlaying == cancel {
		p.cancelPlaying = nil
	}
}
