package emotion

const (
	// Default fusion weights: text leads, voice disambiguates.
	defaultTextWeight  = 0.7
	defaultVoiceWeight = 0.3

	// lowConfidence is the threshold below which one modality is considered
	// unreliable and the weights shift toward the other.
	lowConfidence = 0.4

	// agreementBoost rewards the two modalities agreeing on a label.
	agreementBoost = 1.15

	// confidenceCeiling caps every fused confidence. The fusion rule is a
	// heuristic; it must never claim near-certainty.
	confidenceCeiling = 0.95
)

// Fuse combines a text-path and a voice-path Score into a single Combined
// emotion.
//
// Weights start at (0.7, 0.3). A text confidence below 0.4 swaps them to
// (0.3, 0.7); otherwise a voice confidence below 0.4 collapses them to
// (0.9, 0.1). When both paths agree on the label, the weighted sum is
// boosted by 1.15; when they disagree, the larger weighted score wins, with
// ties resolved toward text. The result is always clamped to [0, 0.95].
//
// With a zero voice weight the rule reduces exactly to the text result.
func Fuse(text, voice Score) Combined {
	wT, wV := defaultTextWeight, defaultVoiceWeight
	if text.Confidence < lowConfidence {
		wT, wV = 0.3, 0.7
	} else if voice.Confidence < lowConfidence {
		wT, wV = 0.9, 0.1
	}
	return FuseWeighted(text, voice, wT, wV)
}

// FuseWeighted applies the fusion rule with explicit weights. Exposed
// separately so the voice-absent path (wV = 0) stays an exact identity on
// the text result.
func FuseWeighted(text, voice Score, wT, wV float64) Combined {
	c := Combined{
		TextLabel:       text.Label,
		VoiceLabel:      voice.Label,
		TextConfidence:  text.Confidence,
		VoiceConfidence: voice.Confidence,
		TextWeight:      wT,
		VoiceWeight:     wV,
	}

	weightedText := wT * text.Confidence
	weightedVoice := wV * voice.Confidence

	switch {
	case wV == 0:
		c.Label = text.Label
		c.Confidence = text.Confidence
	case text.Label == voice.Label:
		c.Label = text.Label
		c.Confidence = (weightedText + weightedVoice) * agreementBoost
	case weightedText >= weightedVoice:
		c.Label = text.Label
		c.Confidence = weightedText
	default:
		c.Label = voice.Label
		c.Confidence = weightedVoice
	}

	c.Confidence = clamp(c.Confidence, 0, confidenceCeiling)
	return c
}

// TextOnly wraps a lone text-path Score as a Combined result without
// inventing a voice modality.
func TextOnly(text Score) Combined {
	return Combined{
		Label:          text.Label,
		Confidence:     clamp(text.Confidence, 0, confidenceCeiling),
		TextLabel:      text.Label,
		TextConfidence: text.Confidence,
		TextWeight:     1,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
