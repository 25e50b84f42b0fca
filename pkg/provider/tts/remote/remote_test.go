package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/provider/tts"
	"github.com/MrWong99/pettry/pkg/types"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()
	pcm := make([]byte, pcmChunkSize*2+10)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	body, err := audio.EncodeWAV(pcm, audio.Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	var got SpeechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	p, err := New(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	clip, err := p.Synthesize(context.Background(), "Woof!", types.VoiceProfile{ID: "rachel"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Text != "Woof!" || got.VoiceID != "rachel" {
		t.Errorf("request = %+v", got)
	}
	if clip.Format.SampleRate != 16000 || clip.Format.Channels != 1 {
		t.Errorf("format = %v", clip.Format)
	}

	var chunks int
	var all []byte
	for c := range clip.Audio {
		chunks++
		all = append(all, c...)
	}
	if chunks != 3 {
		t.Errorf("chunks = %d, want 3", chunks)
	}
	if len(all) != len(pcm) {
		t.Errorf("pcm length = %d, want %d", len(all), len(pcm))
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"speech service unavailable"}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	_, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadGateway || se.Message != "speech service unavailable" {
		t.Errorf("status error = %+v", se)
	}
}

func TestSynthesize_NotWAV(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ID3 definitely an mp3"))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); !errors.Is(err, audio.ErrNotWAV) {
		t.Fatalf("err = %v, want ErrNotWAV", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("http://127.0.0.1:1")
	if _, err := p.Synthesize(context.Background(), " \n", types.VoiceProfile{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/speech/voices" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"a","name":"Rachel","language":"en"},{"id":"b","name":"Adam"}]`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) != 2 || voices[0].Name != "Rachel" || voices[1].Provider != "remote" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error")
	}
}
