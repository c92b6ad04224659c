// Package mock provides a scriptable classify.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/provider/classify"
)

// Provider returns canned scores or errors and records the requests it saw.
type Provider struct {
	mu       sync.Mutex
	requests []classify.Request

	// Score is returned when ClassifyFunc is nil.
	Score emotion.Score
	// Err, when set, is returned instead of Score.
	Err error
	// ClassifyFunc, when set, handles the call entirely.
	ClassifyFunc func(ctx context.Context, req classify.Request) (emotion.Score, error)
	// NotReady flips Ready to false.
	NotReady bool
}

var _ classify.Provider = (*Provider)(nil)

func (m *Provider) Classify(ctx context.Context, req classify.Request) (emotion.Score, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, req)
	}
	if m.Err != nil {
		return emotion.Score{}, m.Err
	}
	return m.Score, nil
}

func (m *Provider) Ready() bool { return !m.NotReady }

// Requests returns a copy of every request observed so far.
func (m *Provider) Requests() []classify.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]classify.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
