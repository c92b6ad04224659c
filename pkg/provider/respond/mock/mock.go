// Package mock provides a scriptable respond.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/attunehq/attune/pkg/provider/respond"
	"github.com/attunehq/attune/pkg/types"
)

// Provider returns a canned candidate or error and records requests.
type Provider struct {
	mu       sync.Mutex
	requests []respond.Request

	Candidate   types.ResponseCandidate
	Err         error
	RespondFunc func(ctx context.Context, req respond.Request) (types.ResponseCandidate, error)
	NotReady    bool
	// ProviderName overrides the reported name (default "mock").
	ProviderName string
}

var _ respond.Provider = (*Provider)(nil)

func (m *Provider) Respond(ctx context.Context, req respond.Request) (types.ResponseCandidate, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RespondFunc != nil {
		return m.RespondFunc(ctx, req)
	}
	if m.Err != nil {
		return types.ResponseCandidate{}, m.Err
	}
	return m.Candidate, nil
}

func (m *Provider) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

func (m *Provider) Ready() bool { return !m.NotReady }

// Requests returns a copy of every request observed so far.
func (m *Provider) Requests() []respond.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]respond.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
