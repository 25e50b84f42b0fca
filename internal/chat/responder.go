package chat

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/pettry/internal/analysis"
	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/pkg/types"
)

// Responder adapts a Service to a voice conversation about one pet. It
// satisfies voice.Responder.
type Responder struct {
	svc         *Service
	petAnalysis string
	profile     *analysis.PetProfile

	mu          sync.Mutex
	recommended []catalog.Product
}

// Responder returns a Responder for a conversation about the pet described
// by petAnalysis and profile. Both may be empty.
func (s *Service) Responder(petAnalysis string, profile *analysis.PetProfile) *Responder {
	return &Responder{svc: s, petAnalysis: petAnalysis, profile: profile}
}

// Respond returns the next reply to history.
func (r *Responder) Respond(ctx context.Context, history []types.Message) (string, error) {
	req := Request{PetAnalysis: r.petAnalysis, PetProfile: r.profile}
	req.Messages = make([]Message, len(history))
	for i, m := range history {
		req.Messages[i] = Message{Role: m.Role, Content: m.Content}
	}
	resp, err := r.svc.Reply(ctx, req)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.recommended = resp.RecommendedProducts
	r.mu.Unlock()
	return resp.Reply, nil
}

// Recommended returns the products named in the latest reply.
func (r *Responder) Recommended() []catalog.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.recommended)
}
