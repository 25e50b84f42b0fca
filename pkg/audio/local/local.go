// Package local drives the host's sound card through miniaudio (malgo). It
// provides the microphone and speaker of the pettry-voice client.
//
//	dev, err := local.New()
//	defer dev.Close()
//	co, err := voice.New(cfg, voice.Deps{Microphone: dev, Strategy: &voice.Remote{TTS: tts, Speaker: dev}, ...})
package local

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/audio/player"
)

var (
	_ audio.Microphone = (*Device)(nil)
	_ audio.Speaker    = (*Device)(nil)
)

const (
	defaultCaptureRate = 16000
	periodMillis       = 20
)

// Option configures a [Device].
type Option func(*Device)

// WithCaptureFormat sets the microphone format. Defaults to 16 kHz mono,
// which is what speech recognisers want.
func WithCaptureFormat(f audio.Format) Option {
	return func(d *Device) { d.capture = f }
}

// Device is the default capture and playback device of the host.
type Device struct {
	capture audio.Format
	speaker *speakerSink
	player  *player.Player

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// New initialises the audio backend.
func New(opts ...Option) (*Device, error) {
	d := &Device{capture: audio.Format{SampleRate: defaultCaptureRate, Channels: 1}}
	for _, o := range opts {
		o(d)
	}
	if d.capture.SampleRate <= 0 || d.capture.Channels <= 0 {
		return nil, fmt.Errorf("local: invalid capture format %s", d.capture)
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("local: init audio context: %w", err)
	}
	d.ctx = ctx
	d.speaker = newSpeakerSink(d)
	d.player = player.New(d.speaker)
	return d, nil
}

// Close releases the audio backend. Streams still open stop delivering.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	_ = d.player.Close()
	d.speaker.close()

	err := d.ctx.Uninit()
	d.ctx.Free()
	if err != nil {
		return fmt.Errorf("local: uninit audio context: %w", err)
	}
	return nil
}

// initDevice creates a malgo device of kind in format f.
func (d *Device) initDevice(kind malgo.DeviceType, f audio.Format, data malgo.DataProc) (*malgo.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, audio.ErrClosed
	}
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = periodMillis
	switch kind {
	case malgo.Capture:
		cfg.Capture.Format = malgo.FormatS16
		cfg.Capture.Channels = uint32(f.Channels)
	default:
		cfg.Playback.Format = malgo.FormatS16
		cfg.Playback.Channels = uint32(f.Channels)
	}
	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{Data: data})
	if err != nil {
		return nil, err
	}
	return dev, nil
}
