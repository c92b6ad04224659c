// Package history bounds and stores conversation transcripts. Truncation
// keeps the respond prompt inside its token budget; the Store interface has
// an in-memory ring implementation for single-process deployments and a
// Postgres one (subpackage postgres) for durable transcripts with
// emotion-vector similarity lookup.
package history

import (
	"context"

	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/types"
)

// Truncation defaults: at most MaxPairs exchanges and MaxChars total
// characters reach the respond stage.
const (
	DefaultMaxPairs = 4
	DefaultMaxChars = 1600
)

// Truncate bounds history to the newest maxPairs exchanges and at most
// maxChars total characters, dropping oldest-first. Kept exchanges are
// preserved verbatim and in order; no partial exchange survives.
func Truncate(history []types.Exchange, maxPairs, maxChars int) []types.Exchange {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	if len(history) > maxPairs {
		history = history[len(history)-maxPairs:]
	}

	// Walk newest to oldest accumulating characters; cut where the budget
	// runs out.
	total := 0
	cut := 0
	for i := len(history) - 1; i >= 0; i-- {
		total += len(history[i].User) + len(history[i].Assistant)
		if total > maxChars {
			cut = i + 1
			break
		}
	}
	return history[cut:]
}

// Turn is one stored exchange with its classification, as recorded after a
// completed turn.
type Turn struct {
	SessionID string
	TurnID    string
	UserText  string
	Assistant string
	Emotion   emotion.Score
	Source    types.ResponseSource
}

// Store records completed turns and serves recent context. Writes are
// best-effort from the orchestrator's point of view: a store failure warns
// but never fails the turn.
type Store interface {
	// WriteTurn appends a completed turn to the session transcript.
	WriteTurn(ctx context.Context, turn Turn) error

	// Recent returns up to limit exchanges for the session, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]types.Exchange, error)
}
