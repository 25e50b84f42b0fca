package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	llmopenai "github.com/MrWong99/pettry/pkg/provider/llm/openai"
	"github.com/MrWong99/pettry/pkg/provider/vision"
)

func TestAnalyze(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"A young golden Labrador."}}]}`))
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o-mini", llmopenai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Analyze(context.Background(), vision.Request{
		Prompt:    "Describe this pet.",
		Image:     []byte{0xff, 0xd8, 0xff},
		MIMEType:  "image/jpeg",
		MaxTokens: 300,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got != "A young golden Labrador." {
		t.Errorf("analysis = %q", got)
	}

	var body struct {
		Messages []struct {
			Content []map[string]any `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(body.Messages) != 1 || len(body.Messages[0].Content) != 2 {
		t.Fatalf("unexpected request shape: %s", raw)
	}
	img, _ := body.Messages[0].Content[1]["image_url"].(map[string]any)
	if url, _ := img["url"].(string); !strings.HasPrefix(url, "data:image/jpeg;base64,/9j/") {
		t.Errorf("image url = %v", img["url"])
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("key", "gpt-3.5-turbo"); err == nil {
		t.Error("expected error for text-only model")
	}
}
