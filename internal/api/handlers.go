package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/pettry/internal/cart"
	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/internal/chat"
	"github.com/MrWong99/pettry/pkg/fault"
)

func newSessionID() string { return uuid.NewString() }

// ─── Assistant ────────────────────────────────────────────────────────────────

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, r, unavailable("Chat"))
		return
	}
	var req chat.Request
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.deps.Chat.Reply(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if resp.RecommendedProducts == nil {
		resp.RecommendedProducts = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, resp)
}

type analyzeRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.deps.Analysis == nil {
		writeError(w, r, unavailable("Photo analysis"))
		return
	}
	var req analyzeRequest
	if err := decode(w, r, maxImageBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Analysis.Analyze(r.Context(), req.Image)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type speechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speech == nil {
		writeError(w, r, unavailable("Speech synthesis"))
		return
	}
	var req speechRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wav, err := s.deps.Speech.Synthesize(r.Context(), req.Text, req.VoiceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

type voiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speech == nil {
		writeError(w, r, unavailable("Speech synthesis"))
		return
	}
	vs, err := s.deps.Speech.Voices(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]voiceInfo, len(vs))
	for i, v := range vs {
		out[i] = voiceInfo{ID: v.ID, Name: v.Name, Language: v.Language}
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": out})
}

// ─── Catalog ──────────────────────────────────────────────────────────────────

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": nonNil(ps)})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.Product(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, r, fault.New(fault.Validation, "limit must be between 1 and 100."))
			return
		}
		limit = n
	}
	ps, err := s.deps.Catalog.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": nonNil(ps)})
}

func nonNil(ps []catalog.Product) []catalog.Product {
	if ps == nil {
		return []catalog.Product{}
	}
	return ps
}

// ─── Sessions & cart ──────────────────────────────────────────────────────────

type sessionRequest struct {
	PetAnalysis string `json:"petAnalysis,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	Greeting  string `json:"greeting"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, maxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: s.deps.NewSessionID(),
		Greeting:  chat.Greeting(req.PetAnalysis),
	})
}

type addItemRequest struct {
	ProductID string `json:"productId,omitempty"`

	// ProductName is resolved against the catalog when ProductID is empty,
	// so spoken names such as "premium dog fud" work.
	ProductName string `json:"productName,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ProductID == "" && strings.TrimSpace(req.ProductName) != "" {
		p, ok, err := s.deps.Catalog.Lookup(r.Context(), req.ProductName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !ok {
			writeError(w, r, fault.New(fault.Validation, "That product is not in our catalog."))
			return
		}
		req.ProductID = p.ID
	}
	item, err := s.deps.Carts.AddItem(r.Context(), r.PathValue("session"), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Carts.Items(r.Context(), r.PathValue("session"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []cart.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleClearItems(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Carts.Clear(r.Context(), r.PathValue("session")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Carts.Checkout(r.Context(), r.PathValue("session"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ─── Widget ───────────────────────────────────────────────────────────────────

func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	wc := s.deps.Widget()
	enabled := wc.VoiceEnabled() && s.deps.Voice != nil
	wc.EnableVoice = &enabled
	writeJSON(w, http.StatusOK, wc)
}
