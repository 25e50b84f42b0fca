package wsaudio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/voice"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// pair is a server side Conn together with the raw browser end.
type pair struct {
	conn    *Conn
	browser *websocket.Conn
	runErr  chan error
}

func newPair(t *testing.T, opts ...Option) *pair {
	t.Helper()
	accepted := make(chan *Conn, 1)
	runErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := New(ws, opts...)
		accepted <- c
		runErr <- c.Run(context.Background())
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	browser, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { browser.CloseNow() })

	select {
	case c := <-accepted:
		return &pair{conn: c, browser: browser, runErr: runErr}
	case <-ctx.Done():
		t.Fatal("server never accepted")
		return nil
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (p *pair) send(t *testing.T, msg Message) {
	t.Helper()
	if err := wsjson.Write(testCtx(t), p.browser, msg); err != nil {
		t.Fatalf("browser write: %v", err)
	}
}

func (p *pair) readJSON(t *testing.T) Message {
	t.Helper()
	var msg Message
	if err := wsjson.Read(testCtx(t), p.browser, &msg); err != nil {
		t.Fatalf("browser read: %v", err)
	}
	return msg
}

func (p *pair) readAny(t *testing.T) (websocket.MessageType, []byte) {
	t.Helper()
	typ, data, err := p.browser.Read(testCtx(t))
	if err != nil {
		t.Fatalf("browser read: %v", err)
	}
	return typ, data
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── microphone ───────────────────────────────────────────────────────────────

func TestMicrophone_DeliversFrames(t *testing.T) {
	t.Parallel()
	p := newPair(t, WithInputFormat(audio.Format{SampleRate: 48000, Channels: 1}))

	stream, err := p.conn.Open(testCtx(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range 2 {
		if err := p.browser.Write(testCtx(t), websocket.MessageBinary, make([]byte, 960)); err != nil {
			t.Fatal(err)
		}
	}

	var frames []audio.AudioFrame
	for len(frames) < 2 {
		select {
		case f := <-stream.Frames():
			frames = append(frames, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}
	if frames[0].SampleRate != 48000 || frames[0].Channels != 1 || len(frames[0].Data) != 960 {
		t.Errorf("frame = %+v", frames[0])
	}
	if frames[1].Timestamp != 10*time.Millisecond {
		t.Errorf("second timestamp = %v, want 10ms", frames[1].Timestamp)
	}

	_ = stream.Close()
	_ = stream.Close()
	if _, ok := <-stream.Frames(); ok {
		t.Error("frames channel still open after Close")
	}
}

func TestMicrophone_CancelClosesStream(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.conn.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cancel()
	select {
	case _, ok := <-stream.Frames():
		if ok {
			t.Error("unexpected frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestMicrophone_PermissionDenied(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	p.send(t, Message{Type: TypeMicError, Code: "not-allowed"})
	eventually(t, func() bool {
		_, err := p.conn.Open(context.Background())
		return errors.Is(err, audio.ErrPermissionDenied)
	})

	// Audio arriving again means the user granted access after all.
	if err := p.browser.Write(testCtx(t), websocket.MessageBinary, []byte{0, 0}); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		s, err := p.conn.Open(context.Background())
		if err != nil {
			return false
		}
		_ = s.Close()
		return true
	})
}

// ─── speaker ──────────────────────────────────────────────────────────────────

func TestSpeaker_Play(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	ch := make(chan []byte, 2)
	ch <- []byte{1, 2}
	ch <- []byte{3, 4}
	close(ch)
	clip := &audio.Clip{Audio: ch, Format: audio.Format{SampleRate: 22050, Channels: 1}}

	done := make(chan error, 1)
	go func() { done <- p.conn.Play(testCtx(t), clip) }()

	header := p.readJSON(t)
	if header.Type != TypeAudio || header.SampleRate != 22050 || header.Channels != 1 || header.ID == 0 {
		t.Fatalf("header = %+v", header)
	}
	var pcm []byte
	for range 2 {
		typ, data := p.readAny(t)
		if typ != websocket.MessageBinary {
			t.Fatalf("got %v frame, want binary", typ)
		}
		pcm = append(pcm, data...)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("pcm = %v", pcm)
	}
	if end := p.readJSON(t); end.Type != TypeAudioEnd || end.ID != header.ID {
		t.Fatalf("end = %+v", end)
	}

	select {
	case err := <-done:
		t.Fatalf("Play returned %v before playback_end", err)
	case <-time.After(20 * time.Millisecond):
	}
	p.send(t, Message{Type: TypePlaybackEnd, ID: header.ID})
	if err := <-done; err != nil {
		t.Fatalf("Play: %v", err)
	}
}

func TestSpeaker_PlayCancelled(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	ch := make(chan []byte, 1)
	ch <- []byte{1, 2}
	t.Cleanup(func() { close(ch) })
	clip := &audio.Clip{Audio: ch, Format: audio.Format{SampleRate: 16000, Channels: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.conn.Play(ctx, clip) }()

	header := p.readJSON(t)
	if typ, _ := p.readAny(t); typ != websocket.MessageBinary {
		t.Fatalf("got %v frame, want binary", typ)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Play err = %v, want context.Canceled", err)
	}
	if stop := p.readJSON(t); stop.Type != TypeStop || stop.ID != header.ID {
		t.Errorf("stop = %+v", stop)
	}
}

func TestSpeaker_StreamError(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	ch := make(chan []byte)
	clip := &audio.Clip{Audio: ch, Format: audio.Format{SampleRate: 16000, Channels: 1}}
	clip.SetStreamErr(errors.New("quota"))
	close(ch)

	if err := p.conn.Play(testCtx(t), clip); err == nil || err.Error() != "quota" {
		t.Fatalf("Play err = %v, want quota", err)
	}
}

// ─── synthesizer ──────────────────────────────────────────────────────────────

func TestSynthesizer_VoicesAndSpeak(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	want := []voice.DeviceVoice{{Name: "Samantha", Lang: "en-US"}, {Name: "Anna", Lang: "de-DE"}}
	p.send(t, Message{Type: TypeVoices, Voices: want})
	eventually(t, func() bool {
		got, err := p.conn.Voices(context.Background())
		return err == nil && len(got) == 2 && got[0] == want[0]
	})

	done := make(chan error, 1)
	go func() {
		done <- p.conn.Speak(testCtx(t), voice.DeviceUtterance{Text: "Woof!", Voice: want[0], Rate: 1.1, Pitch: 1, Volume: 1})
	}()
	msg := p.readJSON(t)
	if msg.Type != TypeSpeak || msg.Text != "Woof!" || msg.Voice == nil || msg.Voice.Name != "Samantha" || msg.Rate != 1.1 {
		t.Fatalf("speak = %+v", msg)
	}
	p.send(t, Message{Type: TypeSpeechEnd, ID: msg.ID})
	if err := <-done; err != nil {
		t.Fatalf("Speak: %v", err)
	}

	go func() { done <- p.conn.Speak(testCtx(t), voice.DeviceUtterance{Text: "again"}) }()
	msg = p.readJSON(t)
	p.send(t, Message{Type: TypeSpeechEnd, ID: msg.ID, Error: "synthesis-failed"})
	if err := <-done; err == nil || !strings.Contains(err.Error(), "synthesis-failed") {
		t.Fatalf("Speak err = %v", err)
	}
}

func TestSynthesizer_NoVoicesIsEmpty(t *testing.T) {
	t.Parallel()
	p := newPair(t, WithVoicesWait(10*time.Millisecond))

	voices, err := p.conn.Voices(testCtx(t))
	if err != nil || len(voices) != 0 {
		t.Fatalf("Voices = %v, %v", voices, err)
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestControls(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	p.send(t, Message{Type: TypeListen})
	p.send(t, Message{Type: "bogus"})
	p.send(t, Message{Type: TypeSay, Text: "Do you have cat toys?"})
	if err := p.browser.Write(testCtx(t), websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	p.send(t, Message{Type: TypeIdle})

	var got []string
	for len(got) < 3 {
		select {
		case msg := <-p.conn.Controls():
			got = append(got, msg.Type+":"+msg.Text)
		case <-time.After(2 * time.Second):
			t.Fatalf("got only %v", got)
		}
	}
	want := "listen:,say:Do you have cat toys?,idle:"
	if strings.Join(got, ",") != want {
		t.Errorf("controls = %v, want %s", got, want)
	}
}

func TestRun_BrowserCloses(t *testing.T) {
	t.Parallel()
	p := newPair(t)

	stream, err := p.conn.Open(testCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	_ = p.browser.Close(websocket.StatusNormalClosure, "bye")

	select {
	case err := <-p.runErr:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if _, ok := <-stream.Frames(); ok {
		t.Error("stream still open")
	}
	if _, ok := <-p.conn.Controls(); ok {
		t.Error("controls still open")
	}
	if _, err := p.conn.Open(context.Background()); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Open after close = %v", err)
	}
	if err := p.conn.Speak(context.Background(), voice.DeviceUtterance{Text: "hi"}); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Speak after close = %v", err)
	}
}
