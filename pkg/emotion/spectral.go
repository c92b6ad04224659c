package emotion

import "github.com/attunehq/attune/pkg/audio"

// Spectral decision thresholds. The voice path is a fast disambiguator for
// the text classifier, so its confidences are deliberately capped at 0.70.
const (
	loudEnergy  = 0.1
	quietEnergy = 0.05
	highPitchHz = 200
	harshZCR    = 0.8
	noisyZCR    = 1.0

	// spectralNoAudio is the confidence reported when no usable audio was
	// supplied.
	spectralNoAudio = 0.5
)

// ClassifyVoice maps extracted voice features onto an emotion Score using
// the fast spectral decision rule:
//
//	loud + high pitch + clean voicing → joy   (0.70)
//	loud otherwise                    → anger (0.65-0.70)
//	quiet                             → sadness (0.65)
//	very noisy                        → fear  (0.60)
//	otherwise                         → neutral (0.60)
//
// A zero-duration clip (missing or empty audio) yields neutral at 0.5.
func ClassifyVoice(f audio.VoiceFeatures) Score {
	if f.Duration == 0 && f.Energy == 0 {
		return Score{Label: Neutral, Confidence: spectralNoAudio}
	}

	var (
		label Label
		conf  float64
	)
	switch {
	case f.Energy > loudEnergy && f.PitchHz > highPitchHz && f.ZeroCrossingRate < harshZCR:
		label, conf = Joy, 0.70
	case f.Energy > loudEnergy:
		// Harsh voicing reads angrier than a merely low pitch.
		label, conf = Anger, 0.65
		if f.ZeroCrossingRate >= harshZCR {
			conf = 0.70
		}
	case f.Energy < quietEnergy:
		label, conf = Sadness, 0.65
	case f.ZeroCrossingRate > noisyZCR:
		label, conf = Fear, 0.60
	default:
		label, conf = Neutral, 0.60
	}

	return Score{
		Label:      label,
		Confidence: conf,
		AllScores:  map[Label]float64{label: conf},
	}
}
