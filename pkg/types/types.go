// Package types holds the wire-level data model shared between the turn
// orchestrator, the capability providers, and the (external) front-end.
package types

import (
	"errors"
	"strings"

	"github.com/attunehq/attune/pkg/emotion"
)

// ErrInputInvalid is returned when a TurnRequest fails validation. It is one
// of the two terminal errors a caller can observe; no TurnResult is produced.
var ErrInputInvalid = errors.New("turn request invalid")

// Exchange is one prior user/assistant pair from the session history.
type Exchange struct {
	// User is the user's utterance.
	User string `json:"user"`

	// Assistant is the assistant's reply to that utterance.
	Assistant string `json:"assistant"`
}

// TurnRequest is a single conversational turn submitted by the front-end.
type TurnRequest struct {
	// Text is the user's utterance. May be empty for audio-only turns.
	Text string `json:"text"`

	// AudioPath points at a mono PCM WAV clip (≤ ~30 s) on local disk.
	// Empty means text-only.
	AudioPath string `json:"audio_path,omitempty"`

	// Language is an ISO-639-1 code. Defaults to "en" when empty.
	Language string `json:"language,omitempty"`

	// SessionID groups turns into a conversation for the transcript store.
	SessionID string `json:"session_id,omitempty"`

	// History holds prior exchanges, oldest first. The orchestrator bounds
	// this before it reaches the respond stage.
	History []Exchange `json:"history,omitempty"`
}

// Validate reports whether the request is processable. Empty text with no
// audio is allowed (it resolves to the general fallback path), but field
// shapes must be sane.
func (r *TurnRequest) Validate() error {
	if r.Language != "" {
		if len(r.Language) != 2 || r.Language != strings.ToLower(r.Language) {
			return errors.Join(ErrInputInvalid, errors.New("language must be a lowercase ISO-639-1 code"))
		}
	}
	if strings.ContainsRune(r.AudioPath, '\n') {
		return errors.Join(ErrInputInvalid, errors.New("audio path contains a newline"))
	}
	return nil
}

// QualitySignals are the response-quality indicators computed for every
// candidate, model-generated or scripted. Each value is in [0, 1].
type QualitySignals struct {
	Empathy          float64 `json:"empathy_score"`
	Professionalism  float64 `json:"professionalism"`
	TherapeuticValue float64 `json:"therapeutic_value"`
}

// ResponseSource distinguishes model-generated responses from scripted
// fallbacks.
type ResponseSource string

const (
	SourceModel    ResponseSource = "model"
	SourceFallback ResponseSource = "fallback"
)

// ResponseCandidate is a produced therapist-style reply together with its
// provenance and quality signals.
type ResponseCandidate struct {
	Text    string         `json:"text"`
	Quality QualitySignals `json:"quality_indicators"`
	Source  ResponseSource `json:"source"`

	// ModelID names the model that produced (or was attempted for) this
	// response. Populated even when Source is fallback.
	ModelID string `json:"model_id"`
}

// TurnResult is the complete output of one turn: classified emotion,
// response text, optional synthesized audio, and advisory metadata.
// For every accepted TurnRequest exactly one TurnResult is emitted.
type TurnResult struct {
	// TurnID uniquely identifies this turn across logs, metrics, and the
	// transcript store.
	TurnID string `json:"turn_id"`

	Emotion  emotion.Combined  `json:"emotion"`
	Response ResponseCandidate `json:"response"`

	// AudioBase64 is base64-encoded PCM WAV, or empty when synthesis failed
	// or was skipped. Audio is best-effort; its absence is advisory only.
	AudioBase64 string `json:"audio_base64,omitempty"`

	// SampleRateHz is the sample rate of the synthesized audio, when present.
	SampleRateHz int `json:"sample_rate_hz,omitempty"`

	// Timings holds per-stage wall-clock durations in milliseconds, keyed by
	// stage name ("emotion", "respond", "speech", "total").
	Timings map[string]int64 `json:"timings"`

	// Warnings lists every substitution or degradation applied during the
	// turn (e.g. "response_timeout", "tts_unavailable").
	Warnings []string `json:"warnings,omitempty"`
}
