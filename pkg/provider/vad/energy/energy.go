// Package energy implements vad.Engine with a spectral energy detector that
// reproduces what a browser AnalyserNode reports from getByteFrequencyData:
// a Blackman-windowed FFT, per-bin magnitudes smoothed over time, converted
// to decibels and scaled to bytes between MinDecibels and MaxDecibels. The
// window is speech when the mean byte level exceeds the speech threshold.
//
// The scale is therefore 0–255 and a threshold of 30 matches the level a
// web client would use against the same microphone.
package energy

import (
	"fmt"
	"math"
	"math/bits"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/provider/vad"
)

const (
	// MinDecibels maps to byte level 0.
	MinDecibels = -100.0
	// MaxDecibels maps to byte level 255.
	MaxDecibels = -30.0
	// DefaultSmoothing is the time constant applied between windows.
	DefaultSmoothing = 0.8
	// DefaultThreshold is the mean byte level above which a window is speech.
	DefaultThreshold = 30.0
	// DefaultWindowSize is the FFT size in samples.
	DefaultWindowSize = 512
)

var _ vad.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithSmoothing sets the smoothing time constant in [0, 1). Zero disables
// smoothing.
func WithSmoothing(tau float64) Option {
	return func(e *Engine) { e.smoothing = tau }
}

// Engine creates energy detection sessions. It is stateless and safe for
// concurrent use.
type Engine struct {
	smoothing float64
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{smoothing: DefaultSmoothing}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession validates cfg and returns a session. A zero WindowSize or
// SpeechThreshold selects the defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultThreshold
	}
	if cfg.WindowSize < 32 || bits.OnesCount(uint(cfg.WindowSize)) != 1 {
		return nil, fmt.Errorf("energy: window size %d must be a power of two >= 32", cfg.WindowSize)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 255 {
		return nil, fmt.Errorf("energy: speech threshold %g out of range [0, 255]", cfg.SpeechThreshold)
	}
	if e.smoothing < 0 || e.smoothing >= 1 {
		return nil, fmt.Errorf("energy: smoothing %g out of range [0, 1)", e.smoothing)
	}

	n := cfg.WindowSize
	s := &session{
		cfg:       cfg,
		smoothing: e.smoothing,
		window:    blackman(n),
		fft:       fourier.NewFFT(n),
		samples:   make([]float64, n),
		coeffs:    make([]complex128, n/2+1),
		smoothed:  make([]float64, n/2),
	}
	return s, nil
}

type session struct {
	mu        sync.Mutex
	cfg       vad.Config
	smoothing float64
	window    []float64
	fft       *fourier.FFT
	samples   []float64
	coeffs    []complex128
	smoothed  []float64
	speaking  bool
	closed    bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, vad.ErrSessionClosed
	}
	if len(frame) != s.cfg.WindowSize*2 {
		return vad.Event{}, fmt.Errorf("energy: frame has %d bytes, want %d", len(frame), s.cfg.WindowSize*2)
	}

	level := s.level(frame)
	speech := level > s.cfg.SpeechThreshold
	ev := vad.Event{Level: level}
	switch {
	case speech && !s.speaking:
		ev.Type = vad.SpeechStart
	case speech:
		ev.Type = vad.SpeechContinue
	case s.speaking:
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	s.speaking = speech
	return ev, nil
}

// level returns the mean byte-scaled magnitude over all frequency bins.
func (s *session) level(frame []byte) float64 {
	n := s.cfg.WindowSize
	s.samples = audio.Float64s(frame[:2*n], s.samples)
	for i := range n {
		s.samples[i] *= s.window[i]
	}
	s.coeffs = s.fft.Coefficients(s.coeffs, s.samples)

	const scale = 255 / (MaxDecibels - MinDecibels)
	var sum float64
	for k := range s.smoothed {
		mag := cmplx.Abs(s.coeffs[k]) / float64(n)
		s.smoothed[k] = s.smoothing*s.smoothed[k] + (1-s.smoothing)*mag
		db := MinDecibels
		if s.smoothed[k] > 0 {
			db = 20 * math.Log10(s.smoothed[k])
		}
		b := math.Floor(scale * (db - MinDecibels))
		sum += math.Max(0, math.Min(255, b))
	}
	return sum / float64(len(s.smoothed))
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.smoothed)
	s.speaking = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// blackman returns the Blackman window coefficients for n samples.
func blackman(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return window.Blackman(w)
}
