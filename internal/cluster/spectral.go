// Package cluster discovers coordinated visitor groups offline:
// FFT-derived spectral timing features, a weighted similarity function,
// and label-propagation clustering on a thresholded similarity graph,
// published as an immutable snapshot from a periodic background task.
package cluster

import "math"

// SpectralFeatures are the five FFT-derived timing features,
// computed over a signature's inter-request interval sequence. They are
// only meaningful once request_count >= MinRequestsForSpectral.
type SpectralFeatures struct {
	DominantFrequency float64
	SpectralEntropy   float64
	HarmonicRatio     float64
	SpectralCentroid  float64
	PeakToAvgRatio    float64
}

// MinRequestsForSpectral is the minimum request count before spectral
// features are computed; n requests yield n-1 intervals, so
// ComputeSpectralFeatures needs at least MinRequestsForSpectral-1 intervals.
const MinRequestsForSpectral = 9

// ComputeSpectralFeatures pads intervals to the next power of two, runs a
// real DFT, and derives the five spectral features from the power
// spectrum.
func ComputeSpectralFeatures(intervals []float64) (SpectralFeatures, bool) {
	if len(intervals) < MinRequestsForSpectral-1 {
		return SpectralFeatures{}, false
	}

	n := nextPowerOfTwo(len(intervals))
	padded := make([]float64, n)
	copy(padded, intervals)

	power := powerSpectrum(padded)
	// Use only the non-negative-frequency half (real input symmetry).
	half := power[:n/2]

	totalPower := 0.0
	dominantBin := 0
	dominantPower := -1.0
	for i, p := range half {
		totalPower += p
		if p > dominantPower {
			dominantPower = p
			dominantBin = i
		}
	}
	if totalPower == 0 {
		return SpectralFeatures{}, true
	}

	entropy := 0.0
	centroidNumerator := 0.0
	for i, p := range half {
		if p <= 0 {
			continue
		}
		prob := p / totalPower
		entropy -= prob * math.Log2(prob)
		centroidNumerator += float64(i) * p
	}
	maxEntropy := math.Log2(float64(len(half)))
	normalizedEntropy := 0.0
	if maxEntropy > 0 {
		normalizedEntropy = entropy / maxEntropy
	}

	harmonicBin := dominantBin * 2
	harmonicRatio := 0.0
	if harmonicBin < len(half) && dominantPower > 0 {
		harmonicRatio = half[harmonicBin] / dominantPower
	}

	meanPower := totalPower / float64(len(half))
	peakToAvg := 0.0
	if meanPower > 0 {
		peakToAvg = dominantPower / meanPower
	}

	centroid := 0.0
	if totalPower > 0 {
		centroid = centroidNumerator / totalPower
	}

	return SpectralFeatures{
		DominantFrequency: float64(dominantBin) / float64(n),
		SpectralEntropy:   normalizedEntropy,
		HarmonicRatio:     harmonicRatio,
		SpectralCentroid:  centroid,
		PeakToAvgRatio:    peakToAvg,
	}, true
}

// SpectralDistance computes a normalized L1 distance across the five
// spectral dims, used by family discovery's TimingCorrelation rule.
func SpectralDistance(a, b SpectralFeatures) float64 {
	d := math.Abs(a.DominantFrequency-b.DominantFrequency) +
		math.Abs(a.SpectralEntropy-b.SpectralEntropy) +
		math.Abs(a.HarmonicRatio-b.HarmonicRatio) +
		math.Abs(a.SpectralCentroid-b.SpectralCentroid) +
		math.Abs(a.PeakToAvgRatio-b.PeakToAvgRatio)
	return d / 5
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// powerSpectrum runs a direct (non-recursive) DFT and returns |X(f)|^2 per
// bin. Input lengths in this package are small (request histories are
// capped at 100), so an O(n^2) DFT is an acceptable, dependency-free
// implementation rather than a full radix-2 FFT.
func powerSpectrum(x []float64) []float64 {
	n := len(x)
	power := make([]float64, n)
	for k := 0; k < n; k++ {
		var re, im float64
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += x[t] * math.Cos(angle)
			im += x[t] * math.Sin(angle)
		}
		power[k] = re*re + im*im
	}
	return power
}
