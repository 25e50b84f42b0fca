package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/types"
)

// ErrFirstChunkTimeout is wrapped by the error of a remote session whose
// synthesizer sent no audio within the first-chunk timeout.
var ErrFirstChunkTimeout = errors.New("voice: no audio before first-chunk timeout")

// DefaultPreferredVoices are matched, in voice order, against the names of
// the voices an on-device synthesizer offers.
var DefaultPreferredVoices = []string{"Samantha", "Google US English", "Microsoft Zira"}

const (
	defaultRate              = 1.1
	defaultLocalePrefix      = "en"
	defaultFirstChunkTimeout = 10 * time.Second
)

// DeviceVoice is a voice offered by an on-device synthesizer.
type DeviceVoice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// DeviceUtterance is one request to an on-device synthesizer.
type DeviceUtterance struct {
	Text   string      `json:"text"`
	Voice  DeviceVoice `json:"voice"`
	Rate   float64     `json:"rate"`
	Pitch  float64     `json:"pitch"`
	Volume float64     `json:"volume"`
}

// Synthesizer is speech synthesis built into the user's device, such as a
// browser's speech API.
type Synthesizer interface {
	// Voices lists the available voices. The list may be empty.
	Voices(ctx context.Context) ([]DeviceVoice, error)

	// Speak says u and blocks until it has been heard or ctx is cancelled.
	// On cancellation speech stops immediately.
	Speak(ctx context.Context, u DeviceUtterance) error
}

// SelectVoice picks the first voice whose name contains one of preferred,
// else the first whose language starts with localePrefix, else the first
// voice. It returns false when voices is empty.
func SelectVoice(voices []DeviceVoice, preferred []string, localePrefix string) (DeviceVoice, bool) {
	if len(voices) == 0 {
		return DeviceVoice{}, false
	}
	for _, v := range voices {
		for _, p := range preferred {
			if p != "" && strings.Contains(v.Name, p) {
				return v, true
			}
		}
	}
	if localePrefix != "" {
		for _, v := range voices {
			if strings.HasPrefix(v.Lang, localePrefix) {
				return v, true
			}
		}
	}
	return voices[0], true
}

// OnDevice speaks through a [Synthesizer].
type OnDevice struct {
	Synth Synthesizer

	// PreferredVoices defaults to DefaultPreferredVoices.
	PreferredVoices []string

	// LocalePrefix defaults to "en".
	LocalePrefix string

	// Rate defaults to 1.1; Pitch and Volume default to 1.0.
	Rate, Pitch, Volume float64
}

// Speak implements [Strategy].
func (o *OnDevice) Speak(ctx context.Context, text string) error {
	u := DeviceUtterance{
		Text:   text,
		Rate:   orDefault(o.Rate, defaultRate),
		Pitch:  orDefault(o.Pitch, 1),
		Volume: orDefault(o.Volume, 1),
	}

	voices, err := o.Synth.Voices(ctx)
	if err != nil {
		slog.Debug("voice: listing device voices failed, using the default voice", "err", err)
	}
	preferred := o.PreferredVoices
	if preferred == nil {
		preferred = DefaultPreferredVoices
	}
	locale := o.LocalePrefix
	if locale == "" {
		locale = defaultLocalePrefix
	}
	if v, ok := SelectVoice(voices, preferred, locale); ok {
		u.Voice = v
	}

	NotifyPlaying(ctx)
	if err := o.Synth.Speak(ctx, u); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.Wrap(fault.Transient, "The reply could not be spoken.", err)
	}
	return nil
}

// Remote synthesizes speech with a [tts.Provider] and plays it on a
// [audio.Speaker].
type Remote struct {
	TTS     tts.Provider
	Speaker audio.Speaker

	// Voice is passed to every Synthesize call. The zero value selects the
	// provider's default.
	Voice types.VoiceProfile

	// FirstChunkTimeout bounds the wait for the first audio chunk. Defaults
	// to 10s.
	FirstChunkTimeout time.Duration
}

// Speak implements [Strategy].
func (r *Remote) Speak(ctx context.Context, text string) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clip, err := r.TTS.Synthesize(sctx, text, r.Voice)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.Wrap(fault.Transient, "Speech synthesis failed.", err)
	}

	timeout := r.FirstChunkTimeout
	if timeout <= 0 {
		timeout = defaultFirstChunkTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var first []byte
	select {
	case <-ctx.Done():
		go audio.Drain(clip.Audio)
		return ctx.Err()
	case <-timer.C:
		cancel()
		go audio.Drain(clip.Audio)
		return fault.Wrap(fault.Transient, "Speech synthesis timed out.", ErrFirstChunkTimeout)
	case chunk, ok := <-clip.Audio:
		if !ok {
			if err := clip.Err(); err != nil {
				return fault.Wrap(fault.Transient, "Speech synthesis failed.", err)
			}
			return nil
		}
		first = chunk
	}

	relay := make(chan []byte, 8)
	out := &audio.Clip{Audio: relay, Format: clip.Format}
	go func() {
		defer close(relay)
		send := func(chunk []byte) bool {
			select {
			case relay <- chunk:
				return true
			case <-sctx.Done():
				go audio.Drain(clip.Audio)
				return false
			}
		}
		if !send(first) {
			return
		}
		for chunk := range clip.Audio {
			if !send(chunk) {
				return
			}
		}
		if err := clip.Err(); err != nil {
			out.SetStreamErr(err)
		}
	}()

	NotifyPlaying(ctx)
	if err := r.Speaker.Play(sctx, out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.Wrap(fault.Transient, "The reply could not be played.", err)
	}
	return nil
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
