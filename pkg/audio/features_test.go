package audio

import (
	"math"
	"math/rand"
	"testing"
)

func sineClip(freqHz float64, seconds, amplitude float64) Clip {
	n := int(float64(AnalysisRate) * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(AnalysisRate))
	}
	return Clip{Samples: samples, Duration: seconds}
}

func TestExtractFeaturesEmptyClip(t *testing.T) {
	f, err := ExtractFeatures(Clip{})
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	if f != (VoiceFeatures{}) {
		t.Errorf("features = %+v, want zero value", f)
	}
}

func TestExtractFeaturesSineEnergy(t *testing.T) {
	f, err := ExtractFeatures(sineClip(220, 1, 0.5))
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	// RMS of a 0.5-amplitude sine is 0.5/sqrt(2) ~ 0.3536.
	if math.Abs(f.Energy-0.3536) > 0.01 {
		t.Errorf("Energy = %v, want ~0.3536", f.Energy)
	}
	if f.Duration != 1 {
		t.Errorf("Duration = %v, want 1", f.Duration)
	}
}

func TestPitchDetectionOnSine(t *testing.T) {
	tests := []float64{100, 160, 200, 320, 400}
	for _, freq := range tests {
		f, err := ExtractFeatures(sineClip(freq, 0.5, 0.6))
		if err != nil {
			t.Fatalf("ExtractFeatures(%v Hz): %v", freq, err)
		}
		// Autocorrelation quantises to integer lags, so allow the error of
		// one lag step at the detected frequency.
		lag := float64(AnalysisRate) / freq
		tolerance := float64(AnalysisRate)/(lag-1) - freq + 1
		if math.Abs(f.PitchHz-freq) > tolerance {
			t.Errorf("PitchHz = %v for %v Hz tone (tolerance %v)", f.PitchHz, freq, tolerance)
		}
	}
}

func TestPitchUnvoicedOnNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	samples := make([]float64, AnalysisRate/2)
	for i := range samples {
		samples[i] = rng.Float64()*0.4 - 0.2
	}
	f, err := ExtractFeatures(Clip{Samples: samples, Duration: 0.5})
	if err != nil {
		t.Fatalf("ExtractFeatures: %v", err)
	}
	// White noise has no dominant lag; the voicing gate should suppress it
	// or at minimum report a high zero-crossing rate.
	if f.PitchHz != 0 && f.ZeroCrossingRate < 0.5 {
		t.Errorf("noise classified as voiced: pitch %v, zcr %v", f.PitchHz, f.ZeroCrossingRate)
	}
}

func TestZeroCrossingRateBounds(t *testing.T) {
	// Alternating full-scale samples flip sign every step: ZCR = 2.
	alternating := make([]float64, 1000)
	for i := range alternating {
		if i%2 == 0 {
			alternating[i] = 0.5
		} else {
			alternating[i] = -0.5
		}
	}
	if got := zeroCrossingRate(alternating); math.Abs(got-2) > 1e-9 {
		t.Errorf("ZCR(alternating) = %v, want 2", got)
	}

	constant := make([]float64, 1000)
	for i := range constant {
		constant[i] = 0.3
	}
	if got := zeroCrossingRate(constant); got != 0 {
		t.Errorf("ZCR(constant) = %v, want 0", got)
	}
}

func TestSpectralCentroidTracksTone(t *testing.T) {
	low, err := ExtractFeatures(sineClip(200, 1, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	high, err := ExtractFeatures(sineClip(2000, 1, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if low.SpectralCentroidHz >= high.SpectralCentroidHz {
		t.Errorf("centroid(200 Hz) = %v >= centroid(2 kHz) = %v",
			low.SpectralCentroidHz, high.SpectralCentroidHz)
	}
	if math.Abs(high.SpectralCentroidHz-2000) > 200 {
		t.Errorf("centroid of 2 kHz tone = %v, want within 200 Hz", high.SpectralCentroidHz)
	}
}

func TestFFTImpulse(t *testing.T) {
	// The transform of a unit impulse is flat ones.
	buf := make([]complex128, 8)
	buf[0] = 1
	fft(buf)
	for i, v := range buf {
		if math.Abs(real(v)-1) > 1e-9 || math.Abs(imag(v)) > 1e-9 {
			t.Errorf("bin %d = %v, want 1", i, v)
		}
	}
}
