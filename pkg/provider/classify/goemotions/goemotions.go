// Package goemotions implements classify.Provider on top of the persistent
// classifier worker process (a RoBERTa GoEmotions model behind the
// line-JSON protocol).
package goemotions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/provider/classify"
)

const defaultTimeout = 3 * time.Second

// Caller issues one line-JSON request against a worker and returns the raw
// reply. Satisfied by *worker.Pool and *worker.Supervisor.
type Caller interface {
	Call(ctx context.Context, req any, timeout time.Duration) (json.RawMessage, error)
	Ready() bool
}

// wireRequest is the classifier worker's stdin schema.
type wireRequest struct {
	Mode      string   `json:"mode"`
	Text      string   `json:"text,omitempty"`
	AudioPath string   `json:"audio_path,omitempty"`
	Context   []string `json:"context,omitempty"`
	Language  string   `json:"language,omitempty"`
}

// wireReply is the classifier worker's stdout schema. Worker-side failures
// arrive in-band as neutral/0.5 with the error field set.
type wireReply struct {
	Emotion    string             `json:"emotion"`
	Confidence float64            `json:"confidence"`
	AllScores  map[string]float64 `json:"all_scores,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Provider is the subprocess-backed classifier.
type Provider struct {
	caller  Caller
	timeout time.Duration
}

var _ classify.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithTimeout overrides the per-call deadline (default 3s).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New wraps a worker caller as a classify.Provider.
func New(caller Caller, opts ...Option) *Provider {
	p := &Provider{caller: caller, timeout: defaultTimeout}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Classify sends the request to the worker and normalises its reply into the
// taxonomy. An in-band worker error is surfaced as a Go error; the caller
// decides whether to substitute neutral.
func (p *Provider) Classify(ctx context.Context, req classify.Request) (emotion.Score, error) {
	if err := req.Validate(); err != nil {
		return emotion.Score{}, err
	}

	raw, err := p.caller.Call(ctx, wireRequest{
		Mode:      string(req.Mode),
		Text:      req.Text,
		AudioPath: req.AudioPath,
		Context:   req.Context,
		Language:  req.Language,
	}, p.timeout)
	if err != nil {
		return emotion.Score{}, fmt.Errorf("goemotions: %w", err)
	}

	var reply wireReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return emotion.Score{}, fmt.Errorf("goemotions: decode reply: %w", err)
	}
	if reply.Error != "" {
		return emotion.Score{}, fmt.Errorf("goemotions: worker error: %s", reply.Error)
	}
	if reply.Emotion == "" {
		return emotion.Score{}, fmt.Errorf("goemotions: reply missing emotion label")
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return emotion.Score{}, fmt.Errorf("goemotions: confidence %v out of range", reply.Confidence)
	}

	score := emotion.Score{
		Label:      emotion.Normalize(reply.Emotion),
		Confidence: reply.Confidence,
		RawLabel:   reply.Emotion,
	}
	if len(reply.AllScores) > 0 {
		score.AllScores = make(map[emotion.Label]float64, len(reply.AllScores))
		for k, v := range reply.AllScores {
			score.AllScores[emotion.Normalize(k)] = v
		}
	}
	return score, nil
}

// Ready reports whether the underlying worker can serve.
func (p *Provider) Ready() bool { return p.caller.Ready() }

// ReadyProbe is the request used to confirm the worker has loaded its model.
func ReadyProbe() any {
	return wireRequest{Mode: string(classify.ModeText), Text: "ready"}
}
