package audio

import (
	"math"
	"math/cmplx"
)

// Autocorrelation pitch search bounds, in samples at [AnalysisRate].
// Lag 20-200 covers 80-800 Hz, the useful range for speech.
const (
	minPitchLag = 20
	maxPitchLag = 200

	// voicingThreshold is the minimum normalised autocorrelation peak for a
	// window to count as voiced. Below it PitchHz is reported as zero.
	voicingThreshold = 0.3
)

// ExtractFeatures computes the four spectral scalars the voice emotion rule
// consumes. An empty clip yields zero features (and a zero Duration), which
// the rule treats as "no audio".
func ExtractFeatures(clip Clip) (VoiceFeatures, error) {
	f := VoiceFeatures{Duration: clip.Duration}
	if len(clip.Samples) == 0 {
		return f, nil
	}

	f.Energy = rms(clip.Samples)
	f.ZeroCrossingRate = zeroCrossingRate(clip.Samples)
	f.PitchHz = pitchAutocorrelation(clip.Samples)
	f.SpectralCentroidHz = spectralCentroid(clip.Samples)

	if err := f.validate(); err != nil {
		return VoiceFeatures{}, err
	}
	return f, nil
}

// rms is the root-mean-square amplitude.
func rms(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate is the mean absolute difference of adjacent sample signs.
// A full sign flip contributes 2, so the range is [0, 2].
func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(samples); i++ {
		sum += math.Abs(sign(samples[i]) - sign(samples[i-1]))
	}
	return sum / float64(len(samples)-1)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// pitchAutocorrelation estimates pitch as AnalysisRate divided by the lag of
// the strongest autocorrelation peak in [minPitchLag, maxPitchLag]. Returns
// zero for unvoiced windows.
func pitchAutocorrelation(samples []float64) float64 {
	if len(samples) <= maxPitchLag {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += s * s
	}
	if energy == 0 {
		return 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minPitchLag; lag <= maxPitchLag; lag++ {
		var corr float64
		for i := lag; i < len(samples); i++ {
			corr += samples[i] * samples[i-lag]
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	if bestLag == 0 || bestCorr/energy < voicingThreshold {
		return 0
	}
	return float64(AnalysisRate) / float64(bestLag)
}

// spectralCentroid computes the amplitude-weighted mean frequency from a
// single radix-2 FFT over the first power-of-two window of the clip.
func spectralCentroid(samples []float64) float64 {
	n := 1
	for n*2 <= len(samples) && n < 1<<15 {
		n *= 2
	}
	if n < 2 {
		return 0
	}

	buf := make([]complex128, n)
	for i := range n {
		buf[i] = complex(samples[i], 0)
	}
	fft(buf)

	var weighted, total float64
	binWidth := float64(AnalysisRate) / float64(n)
	for k := 1; k < n/2; k++ {
		mag := cmplx.Abs(buf[k])
		weighted += float64(k) * binWidth * mag
		total += mag
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform.
// len(buf) must be a power of two.
func fft(buf []complex128) {
	n := len(buf)

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wBase := cmplx.Rect(1, angle)
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			for k := 0; k < length/2; k++ {
				u := buf[start+k]
				v := buf[start+k+length/2] * w
				buf[start+k] = u + v
				buf[start+k+length/2] = u - v
				w *= wBase
			}
		}
	}
}
