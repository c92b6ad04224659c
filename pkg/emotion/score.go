package emotion

// Score is a single-path classification result: the winning label, its
// confidence, and (for the classifier path) the full score vector.
type Score struct {
	// Label is the normalised winning label.
	Label Label `json:"label"`

	// Confidence is the winning score in [0, 1].
	Confidence float64 `json:"confidence"`

	// AllScores maps every evaluated label to its score. The classifier path
	// fills the full taxonomy; the spectral voice path fills only the labels
	// its decision rule considered.
	AllScores map[Label]float64 `json:"all_scores,omitempty"`

	// RawLabel preserves the classifier's native label before normalisation
	// (e.g. "realization" when Label has been folded to "neutral").
	RawLabel string `json:"raw_label,omitempty"`
}

// Vector flattens AllScores into the canonical taxonomy order, suitable for
// storage as a fixed-width embedding. Missing labels are zero.
func (s Score) Vector() []float32 {
	v := make([]float32, len(Labels))
	for l, score := range s.AllScores {
		if i := l.Index(); i >= 0 {
			v[i] = float32(score)
		}
	}
	// Spectral-path scores carry only the winner; make sure it is present.
	if i := s.Label.Index(); i >= 0 && v[i] == 0 {
		v[i] = float32(s.Confidence)
	}
	return v
}

// Combined is the fused text+voice emotion emitted on every turn.
type Combined struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`

	TextLabel       Label   `json:"text_label"`
	VoiceLabel      Label   `json:"voice_label,omitempty"`
	TextConfidence  float64 `json:"text_confidence"`
	VoiceConfidence float64 `json:"voice_confidence,omitempty"`

	// TextWeight and VoiceWeight record the weights the fusion rule settled
	// on, for observability. They sum to 1 when a voice path ran.
	TextWeight  float64 `json:"text_weight"`
	VoiceWeight float64 `json:"voice_weight"`
}
