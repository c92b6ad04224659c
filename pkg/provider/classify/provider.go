// Package classify defines the emotion-classification provider interface and
// its request model. Implementations live in subpackages: goemotions wraps
// the persistent classifier worker, spectral runs the in-process voice rule,
// and mock supports tests.
package classify

import (
	"context"
	"fmt"

	"github.com/attunehq/attune/pkg/emotion"
)

// Mode selects the classifier's input modality.
type Mode string

const (
	// ModeText classifies a transcript alone.
	ModeText Mode = "text"

	// ModeVoice classifies audio alone via spectral features.
	ModeVoice Mode = "voice"

	// ModeCombined fuses text and voice classifications.
	ModeCombined Mode = "combined"

	// ModeTextWithContext classifies the latest utterance with prior turns
	// prepended for pronoun and topic resolution.
	ModeTextWithContext Mode = "text_with_context"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeText, ModeVoice, ModeCombined, ModeTextWithContext:
		return true
	}
	return false
}

// Request is one classification job.
type Request struct {
	Mode Mode

	// Text is required for the text modes, optional for voice.
	Text string

	// AudioPath points at a WAV file for the voice and combined modes.
	AudioPath string

	// Context carries prior utterances, oldest first, for
	// ModeTextWithContext.
	Context []string

	// Language is a lowercase ISO 639-1 hint.
	Language string
}

// Validate checks the mode/field pairing.
func (r Request) Validate() error {
	if !r.Mode.IsValid() {
		return fmt.Errorf("classify: unknown mode %q", r.Mode)
	}
	switch r.Mode {
	case ModeText, ModeTextWithContext:
		if r.Text == "" {
			return fmt.Errorf("classify: mode %s requires text", r.Mode)
		}
	case ModeVoice:
		if r.AudioPath == "" {
			return fmt.Errorf("classify: mode voice requires an audio path")
		}
	case ModeCombined:
		if r.Text == "" || r.AudioPath == "" {
			return fmt.Errorf("classify: mode combined requires text and an audio path")
		}
	}
	return nil
}

// Provider classifies an utterance into the emotion taxonomy.
type Provider interface {
	// Classify runs one classification. Implementations normalise the raw
	// label into the taxonomy and retain the original in Score.RawLabel.
	Classify(ctx context.Context, req Request) (emotion.Score, error)

	// Ready reports whether the provider can serve right now.
	Ready() bool
}
