// Package spectral implements the in-process voice-path classifier: WAV
// decode, feature extraction, and the fast spectral decision rule. It runs
// in microseconds and needs no worker process, so the orchestrator can fan
// it out alongside the text classifier at no cost.
package spectral

import (
	"context"
	"fmt"

	"github.com/attunehq/attune/pkg/audio"
	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/provider/classify"
)

// Provider classifies audio alone. Only ModeVoice is served; text modes
// belong to the worker-backed classifier.
type Provider struct{}

var _ classify.Provider = (*Provider)(nil)

// New returns the voice-rule classifier.
func New() *Provider { return &Provider{} }

// Classify decodes the referenced WAV, extracts voice features, and applies
// the spectral decision rule. A missing or unreadable file is an error, not
// a silent neutral.
func (*Provider) Classify(ctx context.Context, req classify.Request) (emotion.Score, error) {
	if req.Mode != classify.ModeVoice {
		return emotion.Score{}, fmt.Errorf("spectral: unsupported mode %q", req.Mode)
	}
	if err := req.Validate(); err != nil {
		return emotion.Score{}, err
	}
	if err := ctx.Err(); err != nil {
		return emotion.Score{}, err
	}

	clip, err := audio.DecodeWAVFile(req.AudioPath)
	if err != nil {
		return emotion.Score{}, fmt.Errorf("spectral: %w", err)
	}
	features, err := audio.ExtractFeatures(clip)
	if err != nil {
		return emotion.Score{}, fmt.Errorf("spectral: %w", err)
	}
	return emotion.ClassifyVoice(features), nil
}

// Ready always holds; the rule has no external dependency.
func (*Provider) Ready() bool { return true }
