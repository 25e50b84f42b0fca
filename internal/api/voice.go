package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"

	"github.com/MrWong99/pettry/pkg/audio"
	"github.com/MrWong99/pettry/pkg/audio/wsaudio"
	"github.com/MrWong99/pettry/pkg/fault"
)

// handleVoice upgrades to a WebSocket voice session. Query parameters:
// rate (microphone sample rate), session and petAnalysis.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Voice == nil || !s.deps.Widget().VoiceEnabled() {
		writeError(w, r, unavailable("Voice chat"))
		return
	}
	q := r.URL.Query()
	rate := s.opts.InputSampleRate
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 8000 || n > 48000 {
			writeError(w, r, fault.New(fault.Validation, "rate must be between 8000 and 48000."))
			return
		}
		rate = n
	}

	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		slog.Warn("api: voice upgrade failed", "err", err)
		return
	}
	conn := wsaudio.New(ws, wsaudio.WithInputFormat(audio.Format{SampleRate: rate, Channels: 1}))
	defer conn.Close()

	req := VoiceRequest{SessionID: q.Get("session"), PetAnalysis: q.Get("petAnalysis")}
	slog.Info("voice session opened", "session", req.SessionID, "rate", rate)
	if err := s.deps.Voice.ServeVoice(r.Context(), conn, req); err != nil {
		slog.Warn("voice session ended with error", "session", req.SessionID, "err", err)
		return
	}
	slog.Info("voice session closed", "session", req.SessionID)
}

// acceptOptions derives the WebSocket origin check from the CORS origins.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range s.opts.CORSOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		}
	}
	return opts
}
