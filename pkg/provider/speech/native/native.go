// Package native implements speech.Provider on top of the persistent
// synthesis worker (an XTTS-style model behind the line-JSON protocol).
// Reply lines carry whole WAV files as base64 and routinely run to several
// megabytes.
package native

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/attunehq/attune/pkg/provider/speech"
)

const defaultTimeout = 8 * time.Second

// Caller issues one line-JSON request against a worker. Satisfied by
// *worker.Pool and *worker.Supervisor.
type Caller interface {
	Call(ctx context.Context, req any, timeout time.Duration) (json.RawMessage, error)
	Ready() bool
}

// wireRequest is the synthesis worker's stdin schema.
type wireRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// wireReply is the synthesis worker's stdout schema. Failures arrive with
// error set and a null audio payload.
type wireReply struct {
	AudioBase64    *string `json:"audioBase64"`
	Text           string  `json:"text"`
	Language       string  `json:"language"`
	ProcessingTime float64 `json:"processing_time"`
	Model          string  `json:"model"`
	Timestamp      string  `json:"timestamp"`
	Error          string  `json:"error,omitempty"`
}

// Provider is the subprocess-backed synthesizer.
type Provider struct {
	caller  Caller
	timeout time.Duration
}

var _ speech.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithTimeout overrides the per-call deadline (default 8s).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New wraps a worker caller as a speech.Provider.
func New(caller Caller, opts ...Option) *Provider {
	p := &Provider{caller: caller, timeout: defaultTimeout}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize sends the request to the worker and validates the reply.
func (p *Provider) Synthesize(ctx context.Context, req speech.Request) (speech.Result, error) {
	if err := req.Validate(); err != nil {
		return speech.Result{}, err
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	raw, err := p.caller.Call(ctx, wireRequest{Text: req.Text, Language: lang}, p.timeout)
	if err != nil {
		return speech.Result{}, fmt.Errorf("speech native: %w", err)
	}

	var reply wireReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return speech.Result{}, fmt.Errorf("speech native: decode reply: %w", err)
	}
	if reply.Error != "" {
		return speech.Result{}, fmt.Errorf("speech native: worker error: %s", reply.Error)
	}
	if reply.AudioBase64 == nil || *reply.AudioBase64 == "" {
		return speech.Result{}, fmt.Errorf("speech native: reply missing audio")
	}

	return speech.Result{
		AudioBase64:  *reply.AudioBase64,
		SampleRateHz: speech.WAVSampleRate(*reply.AudioBase64),
		Model:        reply.Model,
		Elapsed:      time.Duration(reply.ProcessingTime * float64(time.Second)),
	}, nil
}

// Name implements speech.Provider.
func (p *Provider) Name() string { return "native" }

// Ready reports whether the underlying worker can serve.
func (p *Provider) Ready() bool { return p.caller.Ready() }

// ReadyProbe is the request used to confirm the worker has loaded its
// voice model.
func ReadyProbe() any {
	return wireRequest{Text: "ready", Language: "en"}
}
