package history

import (
	"context"
	"sync"

	"github.com/attunehq/attune/pkg/types"
)

// defaultRingSize bounds the per-session transcript kept in memory.
const defaultRingSize = 64

// MemStore is the in-process Store: a bounded ring of recent turns per
// session. It is the default for single-node deployments without Postgres.
type MemStore struct {
	mu       sync.Mutex
	size     int
	sessions map[string][]Turn
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates a MemStore keeping up to size turns per session
// (default 64).
func NewMemStore(size int) *MemStore {
	if size <= 0 {
		size = defaultRingSize
	}
	return &MemStore{size: size, sessions: make(map[string][]Turn)}
}

// WriteTurn implements Store.
func (s *MemStore) WriteTurn(ctx context.Context, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[turn.SessionID], turn)
	if len(turns) > s.size {
		turns = turns[len(turns)-s.size:]
	}
	s.sessions[turn.SessionID] = turns
	return nil
}

// Recent implements Store.
func (s *MemStore) Recent(ctx context.Context, sessionID string, limit int) ([]types.Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]types.Exchange, len(turns))
	for i, t := range turns {
		out[i] = types.Exchange{User: t.UserText, Assistant: t.Assistant}
	}
	return out, nil
}
