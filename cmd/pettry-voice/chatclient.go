package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/internal/chat"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/types"
	"github.com/MrWong99/pettry/pkg/voice"
)

var _ voice.Responder = (*chatClient)(nil)

// chatClient answers voice turns through a Pettry server's /api/chat.
type chatClient struct {
	baseURL     string
	petAnalysis string
	http        *http.Client

	mu          sync.Mutex
	recommended []catalog.Product
}

func newChatClient(baseURL, petAnalysis string) *chatClient {
	return &chatClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		petAnalysis: petAnalysis,
		http:        &http.Client{Timeout: 60 * time.Second},
	}
}

// Respond sends history and returns the reply.
func (c *chatClient) Respond(ctx context.Context, history []types.Message) (string, error) {
	req := chat.Request{PetAnalysis: c.petAnalysis, Messages: make([]chat.Message, len(history))}
	for i, m := range history {
		req.Messages[i] = chat.Message{Role: m.Role, Content: m.Content}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("chat client: encode: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat client: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.Transient, "The Pettry server cannot be reached.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		kind := fault.Transient
		if resp.StatusCode == http.StatusBadRequest {
			kind = fault.Validation
		}
		return "", fault.New(kind, "%s", e.Error)
	}

	var out chat.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("chat client: decode: %w", err)
	}
	c.mu.Lock()
	c.recommended = out.RecommendedProducts
	c.mu.Unlock()
	return out.Reply, nil
}

// Recommended returns the products named in the latest reply.
func (c *chatClient) Recommended() []catalog.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recommended
}
