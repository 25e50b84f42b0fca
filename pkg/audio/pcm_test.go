package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/pettry/pkg/audio"
)

func pcm(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []byte
		channels int
		want     []int16
	}{
		{"stereo average", pcm(100, 200, -100, -200), 2, []int16{150, -150}},
		{"stereo clamp", pcm(32767, 32767), 2, []int16{32767}},
		{"mono passthrough", pcm(1, 2, 3), 1, []int16{1, 2, 3}},
		{"four channels", pcm(4, 8, 12, 16), 4, []int16{10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			equalSamples(t, samples(audio.Downmix16(tc.in, tc.channels)), tc.want)
		})
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	equalSamples(t, samples(audio.MonoToStereo(pcm(100, -5))), []int16{100, 100, -5, -5})
}

func TestResample16(t *testing.T) {
	t.Parallel()

	same := pcm(1, 2, 3)
	if got := audio.Resample16(same, 16000, 16000); len(got) != len(same) {
		t.Errorf("same rate changed length: %d", len(got))
	}

	down := audio.Resample16(pcm(0, 100, 200, 300, 400, 500), 48000, 16000)
	equalSamples(t, samples(down), []int16{0, 300})

	up := audio.Resample16(pcm(0, 100), 8000, 16000)
	equalSamples(t, samples(up), []int16{0, 50, 100, 100})

	if got := audio.Resample16(pcm(1), 0, 16000); len(got) != 2 {
		t.Errorf("invalid rate should return input unchanged")
	}
}

func TestConverter_BrowserToRecogniser(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}

	in := audio.AudioFrame{
		Data:       pcm(300, 100, 300, 100, 300, 100, 300, 100, 300, 100, 300, 100),
		SampleRate: 48000,
		Channels:   2,
	}
	out := conv.Convert(in)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("format = %d/%d, want 16000/1", out.SampleRate, out.Channels)
	}
	equalSamples(t, samples(out.Data), []int16{200, 200})
}

func TestConverter_OddBytesDropped(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if out.Data != nil {
		t.Errorf("expected nil data for corrupt frame, got %d bytes", len(out.Data))
	}
}

func TestFloat64s(t *testing.T) {
	t.Parallel()
	got := audio.Float64s(pcm(0, 16384, -16384, -32768), nil)
	want := []float64{0, 0.5, -0.5, -1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}

	dst := make([]float64, 0, 8)
	if out := audio.Float64s(pcm(1, 2), dst); &out[0] != &dst[:1][0] {
		t.Error("dst not reused")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		f    audio.Format
		body []int16
	}{
		{"mono", audio.Format{SampleRate: 22050, Channels: 1}, []int16{1, -1, 2, -2}},
		{"stereo", audio.Format{SampleRate: 48000, Channels: 2}, []int16{100, -100, 32767, -32768}},
		{"empty", audio.Format{SampleRate: 16000, Channels: 1}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wav, err := audio.EncodeWAV(pcm(tc.body...), tc.f)
			if err != nil {
				t.Fatalf("EncodeWAV: %v", err)
			}
			if len(wav) != 44+2*len(tc.body) {
				t.Errorf("encoded %d bytes, want %d", len(wav), 44+2*len(tc.body))
			}
			gotF, gotPCM, err := audio.ParseWAV(wav)
			if err != nil {
				t.Fatalf("ParseWAV: %v", err)
			}
			if gotF != tc.f {
				t.Errorf("format = %v, want %v", gotF, tc.f)
			}
			equalSamples(t, samples(gotPCM), tc.body)
		})
	}
}

func TestEncodeWAV_InvalidFormat(t *testing.T) {
	t.Parallel()
	if _, err := audio.EncodeWAV(pcm(1, 2), audio.Format{SampleRate: 16000}); err == nil {
		t.Error("expected error for zero channels")
	}
}

func TestParseWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()
	wav, err := audio.EncodeWAV(pcm(7, -7), audio.Format{SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Insert a "fact" chunk between "fmt " and "data".
	extra := []byte{'f', 'a', 'c', 't', 4, 0, 0, 0, 2, 0, 0, 0}
	withFact := append(append(append([]byte{}, wav[:36]...), extra...), wav[36:]...)
	binary.LittleEndian.PutUint32(withFact[4:8], uint32(len(withFact)-8))

	f, got, err := audio.ParseWAV(withFact)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if f.SampleRate != 8000 || f.Channels != 1 {
		t.Errorf("format = %v", f)
	}
	equalSamples(t, samples(got), []int16{7, -7})

	// A trailing chunk after the payload is not audio.
	trailing := append(append([]byte{}, wav...), 'I', 'D', '3', ' ', 2, 0, 0, 0, 9, 9)
	if _, got, err = audio.ParseWAV(trailing); err != nil {
		t.Fatalf("ParseWAV with trailing chunk: %v", err)
	}
	equalSamples(t, samples(got), []int16{7, -7})
}

func TestParseWAV_Invalid(t *testing.T) {
	t.Parallel()
	for _, in := range [][]byte{nil, []byte("RIFF0000WAVX"), []byte("not audio at all"), []byte("RIFF\x04\x00\x00\x00WAVE")} {
		if _, _, err := audio.ParseWAV(in); err == nil {
			t.Errorf("ParseWAV(%q): expected error", in)
		}
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 48000, Channels: 6}, "48000Hz 6ch"},
	}
	for _, tc := range tests {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("%v.String() = %q, want %q", tc.f, got, tc.want)
		}
	}
}
