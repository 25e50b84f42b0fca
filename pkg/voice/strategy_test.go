package voice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/pettry/pkg/audio"
	audiomock "github.com/MrWong99/pettry/pkg/audio/mock"
	"github.com/MrWong99/pettry/pkg/fault"
	ttsmock "github.com/MrWong99/pettry/pkg/provider/tts/mock"
	"github.com/MrWong99/pettry/pkg/types"
	"github.com/MrWong99/pettry/pkg/voice"
	"github.com/MrWong99/pettry/pkg/voice/mock"
)

func TestSelectVoice(t *testing.T) {
	voices := []voice.DeviceVoice{
		{Name: "Anna", Lang: "de-DE"},
		{Name: "Daniel", Lang: "en-GB"},
		{Name: "Microsoft Zira - English (United States)", Lang: "en-US"},
		{Name: "Samantha", Lang: "en-US"},
	}
	tests := []struct {
		name      string
		voices    []voice.DeviceVoice
		preferred []string
		locale    string
		want      string
		wantOK    bool
	}{
		{name: "first preferred in voice order", voices: voices, preferred: voice.DefaultPreferredVoices, locale: "en", want: "Microsoft Zira - English (United States)", wantOK: true},
		{name: "locale fallback", voices: voices[:2], preferred: voice.DefaultPreferredVoices, locale: "en", want: "Daniel", wantOK: true},
		{name: "first voice fallback", voices: voices[:1], preferred: voice.DefaultPreferredVoices, locale: "en", want: "Anna", wantOK: true},
		{name: "custom locale", voices: voices, preferred: nil, locale: "de", want: "Anna", wantOK: true},
		{name: "no voices", voices: nil, preferred: voice.DefaultPreferredVoices, locale: "en", wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := voice.SelectVoice(tc.voices, tc.preferred, tc.locale)
			if ok != tc.wantOK || got.Name != tc.want {
				t.Errorf("SelectVoice = %q, %v; want %q, %v", got.Name, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestOnDevice_Speak(t *testing.T) {
	synth := &mock.Synthesizer{VoicesResult: []voice.DeviceVoice{
		{Name: "Fred", Lang: "en-US"},
		{Name: "Samantha", Lang: "en-US"},
	}}
	o := &voice.OnDevice{Synth: synth}

	if err := o.Speak(context.Background(), "Meow!"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	us := synth.Utterances()
	if len(us) != 1 {
		t.Fatalf("utterances = %d, want 1", len(us))
	}
	u := us[0]
	if u.Text != "Meow!" || u.Voice.Name != "Samantha" {
		t.Errorf("utterance = %+v", u)
	}
	if u.Rate != 1.1 || u.Pitch != 1 || u.Volume != 1 {
		t.Errorf("rate/pitch/volume = %v/%v/%v, want 1.1/1/1", u.Rate, u.Pitch, u.Volume)
	}
}

func TestOnDevice_VoicesErrorStillSpeaks(t *testing.T) {
	synth := &mock.Synthesizer{VoicesErr: errors.New("not ready")}
	o := &voice.OnDevice{Synth: synth, Rate: 0.9}

	if err := o.Speak(context.Background(), "hi"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	u := synth.Utterances()[0]
	if u.Voice != (voice.DeviceVoice{}) || u.Rate != 0.9 {
		t.Errorf("utterance = %+v", u)
	}
}

func TestOnDevice_SpeakError(t *testing.T) {
	synth := &mock.Synthesizer{SpeakErr: errors.New("synthesis-failed")}
	err := (&voice.OnDevice{Synth: synth}).Speak(context.Background(), "hi")
	if !fault.Is(err, fault.Transient) {
		t.Errorf("err = %v, want transient fault", err)
	}
}

func TestRemote_PlaysAllChunks(t *testing.T) {
	provider := &ttsmock.Provider{Chunks: [][]byte{{1, 2}, {3, 4}, {5, 6}}}
	speaker := &audiomock.Speaker{}
	voiceProfile := types.VoiceProfile{ID: "rachel"}
	r := &voice.Remote{TTS: provider, Speaker: speaker, Voice: voiceProfile}

	if err := r.Speak(context.Background(), "Your order is on its way."); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := len(speaker.Chunks()); got != 3 {
		t.Errorf("played %d chunks, want 3", got)
	}
	if provider.SynthesizeCalls[0].Voice != voiceProfile {
		t.Errorf("voice = %+v", provider.SynthesizeCalls[0].Voice)
	}
}

func TestRemote_FirstChunkTimeout(t *testing.T) {
	provider := &ttsmock.Provider{Stall: true}
	speaker := &audiomock.Speaker{}
	r := &voice.Remote{TTS: provider, Speaker: speaker, FirstChunkTimeout: 20 * time.Millisecond}

	start := time.Now()
	err := r.Speak(context.Background(), "hello")
	if !errors.Is(err, voice.ErrFirstChunkTimeout) || !fault.Is(err, fault.Transient) {
		t.Fatalf("err = %v, want transient first-chunk timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	if speaker.Plays() != 0 {
		t.Error("speaker played after timeout")
	}
}

func TestRemote_SynthesisErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *ttsmock.Provider
	}{
		{name: "request rejected", provider: &ttsmock.Provider{SynthesizeErr: errors.New("401")}},
		{name: "stream broke before audio", provider: &ttsmock.Provider{StreamErr: errors.New("quota")}},
		{name: "stream broke mid clip", provider: &ttsmock.Provider{Chunks: [][]byte{{1, 2}}, StreamErr: errors.New("quota")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &voice.Remote{TTS: tc.provider, Speaker: &audiomock.Speaker{}}
			err := r.Speak(context.Background(), "hello")
			if !fault.Is(err, fault.Transient) {
				t.Errorf("err = %v, want transient fault", err)
			}
		})
	}
}

func TestRemote_CancelStopsPlayback(t *testing.T) {
	provider := &ttsmock.Provider{Chunks: [][]byte{{1, 2}}}
	speaker := &audiomock.Speaker{Hold: true}
	playing := speaker.Playing()
	r := &voice.Remote{TTS: provider, Speaker: speaker}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Speak(ctx, "a long answer about cat trees") }()

	<-playing
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Speak did not return after cancel")
	}
}

func TestRemote_ReportsPlaying(t *testing.T) {
	provider := &ttsmock.Provider{Chunks: [][]byte{{1, 2}}, Format: audio.Format{SampleRate: 24000, Channels: 1}}
	speaker := &audiomock.Speaker{}
	p := voice.NewPlayback(&voice.Remote{TTS: provider, Speaker: speaker})

	s := p.Start(context.Background(), "hello")
	if got := waitDone(t, s); got != voice.SessionCompleted {
		t.Fatalf("state = %s", got)
	}
	select {
	case <-s.Playing():
	default:
		t.Error("remote playback never reported audio")
	}
}
