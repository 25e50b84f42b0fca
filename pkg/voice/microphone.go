package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/pettry/pkg/audio"
)

// ErrMicrophoneBusy is returned by [SharedMicrophone.Acquire] while another
// owner holds the microphone.
var ErrMicrophoneBusy = errors.New("voice: microphone busy")

// SharedMicrophone grants exclusive access to one [audio.Microphone].
// Capture and the interruption monitor both need the device but never at
// the same time; the coordinator's ordering guarantees it and this type
// enforces it.
type SharedMicrophone struct {
	mic audio.Microphone

	mu     sync.Mutex
	holder string
	lease  *Lease
}

// NewSharedMicrophone wraps mic.
func NewSharedMicrophone(mic audio.Microphone) *SharedMicrophone {
	return &SharedMicrophone{mic: mic}
}

// Acquire opens a capture stream for owner. It fails with ErrMicrophoneBusy
// if the microphone is held, or with the device error if opening fails.
func (m *SharedMicrophone) Acquire(ctx context.Context, owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease != nil {
		return nil, fmt.Errorf("%w: held by %s", ErrMicrophoneBusy, m.holder)
	}
	stream, err := m.mic.Open(ctx)
	if err != nil {
		return nil, err
	}
	l := &Lease{owner: m, stream: stream}
	m.lease, m.holder = l, owner
	return l, nil
}

// Holder returns the current owner, or "" when free.
func (m *SharedMicrophone) Holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// Lease is an exclusive hold on the shared microphone.
type Lease struct {
	owner  *SharedMicrophone
	stream audio.InputStream
	once   sync.Once
}

// Frames delivers captured audio until the lease is released.
func (l *Lease) Frames() <-chan audio.AudioFrame { return l.stream.Frames() }

// Release closes the stream and frees the microphone. Safe to call more
// than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		_ = l.stream.Close()
		l.owner.mu.Lock()
		if l.owner.lease == l {
			l.owner.lease, l.owner.holder = nil, ""
		}
		l.owner.mu.Unlock()
	})
}
