// Package model implements respond.Provider on top of the persistent
// generation worker (a fine-tuned therapeutic model behind the line-JSON
// protocol). The worker owns prompt assembly, sampling, and its own quality
// gate; this client validates the wire contract and maps it onto the
// candidate type.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/provider/respond"
	"github.com/attunehq/attune/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Caller issues one line-JSON request against a worker. Satisfied by
// *worker.Pool and *worker.Supervisor.
type Caller interface {
	Call(ctx context.Context, req any, timeout time.Duration) (json.RawMessage, error)
	Ready() bool
}

// wireRequest is the generation worker's stdin schema. History is the
// flattened alternating user/assistant form.
type wireRequest struct {
	UserInput string   `json:"user_input"`
	Emotion   string   `json:"emotion"`
	History   []string `json:"history"`
}

type wireQuality struct {
	EmpathyScore     float64 `json:"empathy_score"`
	Professionalism  float64 `json:"professionalism"`
	TherapeuticValue float64 `json:"therapeutic_value"`
}

type wireReply struct {
	Response          string          `json:"response"`
	Confidence        float64         `json:"confidence"`
	Emotion           string          `json:"emotion"`
	Source            string          `json:"source"`
	QualityIndicators wireQuality     `json:"quality_indicators"`
	ModelInfo         json.RawMessage `json:"model_info"`
	Error             string          `json:"error,omitempty"`
}

// Provider is the subprocess-backed response generator.
type Provider struct {
	caller  Caller
	timeout time.Duration
	modelID string
}

var _ respond.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithTimeout overrides the per-call deadline (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithModelID sets the identifier reported on candidates (default
// "therapeutic-worker").
func WithModelID(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.modelID = id
		}
	}
}

// New wraps a worker caller as a respond.Provider.
func New(caller Caller, opts ...Option) *Provider {
	p := &Provider{caller: caller, timeout: defaultTimeout, modelID: "therapeutic-worker"}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Respond sends the request to the worker. The worker reports whether it
// served a generation or fell back to its own script via the source field;
// anything other than "model" maps to SourceFallback.
func (p *Provider) Respond(ctx context.Context, req respond.Request) (types.ResponseCandidate, error) {
	if err := req.Validate(); err != nil {
		return types.ResponseCandidate{}, err
	}

	raw, err := p.caller.Call(ctx, wireRequest{
		UserInput: req.UserInput,
		Emotion:   string(req.Emotion),
		History:   respond.FlattenHistory(req.History),
	}, p.timeout)
	if err != nil {
		return types.ResponseCandidate{}, fmt.Errorf("respond model: %w", err)
	}

	var reply wireReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return types.ResponseCandidate{}, fmt.Errorf("respond model: decode reply: %w", err)
	}
	if reply.Response == "" {
		if reply.Error != "" {
			return types.ResponseCandidate{}, fmt.Errorf("respond model: worker error: %s", reply.Error)
		}
		return types.ResponseCandidate{}, fmt.Errorf("respond model: empty response")
	}

	source := types.SourceFallback
	if reply.Source == "model" {
		source = types.SourceModel
	}
	return types.ResponseCandidate{
		Text:   reply.Response,
		Source: source,
		Quality: types.QualitySignals{
			Empathy:          reply.QualityIndicators.EmpathyScore,
			Professionalism:  reply.QualityIndicators.Professionalism,
			TherapeuticValue: reply.QualityIndicators.TherapeuticValue,
		},
		ModelID: p.modelID,
	}, nil
}

// Name implements respond.Provider.
func (p *Provider) Name() string { return "model" }

// Ready reports whether the underlying worker can serve.
func (p *Provider) Ready() bool { return p.caller.Ready() }

// ReadyProbe is the request used to confirm the worker has loaded its
// weights. The reply is a scripted greeting, which exercises the full
// request path without a generation.
func ReadyProbe() any {
	return wireRequest{UserInput: "ready", Emotion: string(emotion.Neutral), History: []string{}}
}
