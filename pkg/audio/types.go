package audio

import (
	"fmt"
	"sync/atomic"
	"time"
)

// AudioFrame is one chunk of 16-bit little-endian PCM flowing from a
// microphone to the recogniser or the interruption monitor.
type AudioFrame struct {
	// Data holds interleaved int16 samples.
	Data []byte

	// SampleRate in Hz (e.g. 48000 from a browser, 16000 for STT).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the capture time relative to the stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Clip is one synthesized reply streamed to a [Speaker]. Audio arrives
// incrementally so playback can begin before synthesis has finished.
type Clip struct {
	// Audio carries raw PCM chunks in Format. The producer closes it when
	// synthesis ends, successfully or not.
	Audio <-chan []byte

	// Format of the PCM on Audio.
	Format Format

	streamErr atomic.Pointer[error]
}

// Err returns the error that ended the Audio stream early, or nil if it
// completed cleanly. Only meaningful after Audio is closed.
func (c *Clip) Err() error {
	if p := c.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a synthesis failure. Producers call it before closing
// Audio.
func (c *Clip) SetStreamErr(err error) {
	c.streamErr.Store(&err)
}
