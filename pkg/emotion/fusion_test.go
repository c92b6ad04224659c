package emotion

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFuseAgreementBoost(t *testing.T) {
	text := Score{Label: Joy, Confidence: 0.8}
	voice := Score{Label: Joy, Confidence: 0.7}

	got := Fuse(text, voice)

	if got.Label != Joy {
		t.Fatalf("Label = %s, want joy", got.Label)
	}
	// (0.7*0.8 + 0.3*0.7) * 1.15 = 0.8855
	if !almostEqual(got.Confidence, 0.8855) {
		t.Errorf("Confidence = %v, want 0.8855", got.Confidence)
	}
}

func TestFuseAgreementCeiling(t *testing.T) {
	got := Fuse(Score{Label: Joy, Confidence: 0.95}, Score{Label: Joy, Confidence: 0.9})
	if got.Confidence > 0.95 {
		t.Errorf("Confidence = %v, exceeds 0.95 ceiling", got.Confidence)
	}
}

func TestFuseDisagreementTextWins(t *testing.T) {
	text := Score{Label: Sadness, Confidence: 0.8}
	voice := Score{Label: Anger, Confidence: 0.6}

	got := Fuse(text, voice)

	// 0.7*0.8 = 0.56 beats 0.3*0.6 = 0.18.
	if got.Label != Sadness {
		t.Errorf("Label = %s, want sadness", got.Label)
	}
	if !almostEqual(got.Confidence, 0.56) {
		t.Errorf("Confidence = %v, want 0.56", got.Confidence)
	}
}

func TestFuseLowTextConfidenceShiftsWeight(t *testing.T) {
	// Text below 0.4 hands the decision to voice: weights become 0.3/0.7.
	text := Score{Label: Neutral, Confidence: 0.35}
	voice := Score{Label: Anger, Confidence: 0.7}

	got := Fuse(text, voice)

	if got.Label != Anger {
		t.Errorf("Label = %s, want anger", got.Label)
	}
	// 0.7*0.7 = 0.49 vs 0.3*0.35 = 0.105.
	if !almostEqual(got.Confidence, 0.49) {
		t.Errorf("Confidence = %v, want 0.49", got.Confidence)
	}
	if !almostEqual(got.TextWeight, 0.3) || !almostEqual(got.VoiceWeight, 0.7) {
		t.Errorf("weights = (%v, %v), want (0.3, 0.7)", got.TextWeight, got.VoiceWeight)
	}
}

func TestFuseLowVoiceConfidenceShiftsWeight(t *testing.T) {
	text := Score{Label: Sadness, Confidence: 0.6}
	voice := Score{Label: Fear, Confidence: 0.3}

	got := Fuse(text, voice)

	if got.Label != Sadness {
		t.Errorf("Label = %s, want sadness", got.Label)
	}
	if !almostEqual(got.TextWeight, 0.9) || !almostEqual(got.VoiceWeight, 0.1) {
		t.Errorf("weights = (%v, %v), want (0.9, 0.1)", got.TextWeight, got.VoiceWeight)
	}
}

func TestFuseDisagreementTieGoesToText(t *testing.T) {
	// Equal weighted scores must resolve to the text label.
	text := Score{Label: Joy, Confidence: 0.3}
	voice := Score{Label: Anger, Confidence: 0.7}

	got := FuseWeighted(text, voice, 0.7, 0.3)

	// 0.7*0.3 = 0.21 = 0.3*0.7.
	if got.Label != Joy {
		t.Errorf("Label = %s, want joy on tie", got.Label)
	}
}

func TestFuseZeroVoiceWeightIsIdentity(t *testing.T) {
	text := Score{Label: Gratitude, Confidence: 0.66}
	got := FuseWeighted(text, Score{Label: Anger, Confidence: 0.9}, 1, 0)

	if got.Label != Gratitude || !almostEqual(got.Confidence, 0.66) {
		t.Errorf("got (%s, %v), want text passthrough (gratitude, 0.66)", got.Label, got.Confidence)
	}
}

func TestTextOnly(t *testing.T) {
	got := TextOnly(Score{Label: Remorse, Confidence: 0.72})
	if got.Label != Remorse || !almostEqual(got.Confidence, 0.72) {
		t.Errorf("got (%s, %v), want (remorse, 0.72)", got.Label, got.Confidence)
	}
	if got.VoiceWeight != 0 {
		t.Errorf("VoiceWeight = %v, want 0", got.VoiceWeight)
	}
}

func TestFuseConfidenceNeverAboveCeiling(t *testing.T) {
	labels := []Label{Joy, Anger, Sadness, Neutral}
	for _, tl := range labels {
		for _, vl := range labels {
			for tc := 0.0; tc <= 1.0; tc += 0.25 {
				for vc := 0.0; vc <= 1.0; vc += 0.25 {
					got := Fuse(Score{Label: tl, Confidence: tc}, Score{Label: vl, Confidence: vc})
					if got.Confidence > 0.95 || got.Confidence < 0 {
						t.Fatalf("Fuse(%s %v, %s %v).Confidence = %v out of [0, 0.95]",
							tl, tc, vl, vc, got.Confidence)
					}
				}
			}
		}
	}
}
