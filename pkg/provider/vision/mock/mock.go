// Package mock provides a test double for vision.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pettry/pkg/provider/vision"
)

// Provider is a mock implementation of vision.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Analyze.
	Result string

	// Err, if non-nil, is returned by Analyze.
	Err error

	// Calls records every request in order.
	Calls []vision.Request
}

// Analyze records req and returns Result, Err.
func (p *Provider) Analyze(_ context.Context, req vision.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	return p.Result, p.Err
}

// CallCount returns the number of Analyze calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ vision.Provider = (*Provider)(nil)
