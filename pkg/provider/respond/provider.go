// Package respond defines the therapist-response provider interface. Three
// interchangeable backends implement it: model (the persistent generation
// worker), anyllm (a remote LLM), and pattern (scripted, no weights). The
// orchestrator must not care which one is running.
package respond

import (
	"context"
	"fmt"
	"strings"

	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/types"
)

// Request is one response-generation job.
type Request struct {
	// UserInput is the current user utterance.
	UserInput string

	// Emotion is the fused classification for this turn.
	Emotion emotion.Label

	// History holds prior exchanges, oldest first, already truncated to the
	// configured window.
	History []types.Exchange
}

// Validate rejects empty input; the orchestrator maps empty turns to the
// general fallback before reaching a backend.
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserInput) == "" {
		return fmt.Errorf("respond: empty user input")
	}
	return nil
}

// Provider generates one therapist-style reply.
type Provider interface {
	// Respond produces a candidate reply. Implementations report their
	// provenance via ResponseCandidate.Source; scripted backends always
	// report SourceFallback.
	Respond(ctx context.Context, req Request) (types.ResponseCandidate, error)

	// Name identifies the backend for logs and warnings.
	Name() string

	// Ready reports whether the backend can serve right now.
	Ready() bool
}

// FlattenHistory serialises exchanges into the alternating flat string form
// the generation worker's wire contract uses: user line, assistant line,
// oldest first.
func FlattenHistory(history []types.Exchange) []string {
	out := make([]string, 0, len(history)*2)
	for _, ex := range history {
		out = append(out, ex.User, ex.Assistant)
	}
	return out
}
