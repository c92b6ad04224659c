// Package audio provides WAV clip decoding, PCM conversion, and the spectral
// voice-feature extraction used by the emotion fusion path.
//
// All PCM handling is little-endian int16. Clips are normalised to 16 kHz
// mono before analysis; only the first [MaxAnalysisSeconds] of a clip
// influence the extracted features.
package audio

import (
	"errors"
	"math"
)

// AnalysisRate is the sample rate every clip is resampled to before feature
// extraction.
const AnalysisRate = 16000

// MaxAnalysisSeconds bounds how much of a clip the feature extractor looks at.
const MaxAnalysisSeconds = 10

// ErrNotFinite is returned when feature extraction produces a NaN or Inf.
// This indicates corrupt input and is fatal to the extraction, not recovered.
var ErrNotFinite = errors.New("audio: non-finite feature value")

// Clip is a decoded, analysis-ready audio clip: mono float samples in
// [-1, 1] at [AnalysisRate].
type Clip struct {
	// Samples covers at most MaxAnalysisSeconds of audio.
	Samples []float64

	// Duration is the full clip length in seconds, before truncation.
	Duration float64
}

// VoiceFeatures are the scalar descriptors the spectral emotion rule
// operates on. All values are finite.
type VoiceFeatures struct {
	// Energy is the root-mean-square amplitude of the analysed window.
	Energy float64 `json:"energy"`

	// ZeroCrossingRate is the mean absolute sign-difference between adjacent
	// samples (range [0, 2]; voiced speech sits well below 1).
	ZeroCrossingRate float64 `json:"zcr"`

	// PitchHz is a coarse autocorrelation pitch estimate. Zero when the
	// window is unvoiced.
	PitchHz float64 `json:"pitch_hz"`

	// SpectralCentroidHz is the amplitude-weighted mean frequency from a
	// single FFT over the analysis window.
	SpectralCentroidHz float64 `json:"spectral_centroid_hz"`

	// TempoBPM is optional and left zero by the extractor.
	TempoBPM float64 `json:"tempo_bpm,omitempty"`

	// Duration is the full clip length in seconds.
	Duration float64 `json:"duration"`
}

// validate returns ErrNotFinite if any field is NaN or infinite.
func (f VoiceFeatures) validate() error {
	for _, v := range []float64{f.Energy, f.ZeroCrossingRate, f.PitchHz, f.SpectralCentroidHz, f.TempoBPM, f.Duration} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNotFinite
		}
	}
	return nil
}
