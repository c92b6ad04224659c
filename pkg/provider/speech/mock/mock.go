// Package mock provides a scriptable speech.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/attunehq/attune/pkg/provider/speech"
)

// Provider returns a canned result or error and records requests.
type Provider struct {
	mu       sync.Mutex
	requests []speech.Request

	Result         speech.Result
	Err            error
	SynthesizeFunc func(ctx context.Context, req speech.Request) (speech.Result, error)
	NotReady       bool
}

var _ speech.Provider = (*Provider)(nil)

func (m *Provider) Synthesize(ctx context.Context, req speech.Request) (speech.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, req)
	}
	if m.Err != nil {
		return speech.Result{}, m.Err
	}
	return m.Result, nil
}

func (m *Provider) Name() string { return "mock" }

func (m *Provider) Ready() bool { return !m.NotReady }

// Requests returns a copy of every request observed so far.
func (m *Provider) Requests() []speech.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]speech.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
