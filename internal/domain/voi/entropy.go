package voi

import "math"

// unknownEntropyBits is the entropy assigned to a belief with no structure.
const unknownEntropyBits = 2.0

// Entropy returns the uncertainty of a belief in bits. Never negative.
func Entropy(b PriorBelief) float64 {
	switch b.Type {
	case BeliefCategorical:
		return categoricalEntropy(b.Distribution)
	case BeliefContinuous:
		return gaussianEntropy(b.Variance)
	case BeliefBoolean:
		return binaryEntropy(b.Probability)
	default:
		return unknownEntropyBits
	}
}

// categoricalEntropy normalizes the distribution and computes Shannon entropy.
func categoricalEntropy(dist map[string]float64) float64 {
	var total float64
	for _, p := range dist {
		if p > 0 {
			total += p
		}
	}
	if total <= 0 {
		return 0
	}

	var h float64
	for _, p := range dist {
		if p <= 0 {
			continue
		}
		q := p / total
		h -= q * math.Log2(q)
	}
	return math.Max(0, h)
}

// gaussianEntropy is the differential entropy 0.5*log2(2*pi*e*variance),
// clamped at zero for very narrow beliefs.
func gaussianEntropy(variance float64) float64 {
	if variance <= 0 {
		return 0
	}
	h := 0.5 * math.Log2(2*math.Pi*math.E*variance)
	return math.Max(0, h)
}

func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

// ExpectedPosteriorEntropy models how much uncertainty remains after asking.
func ExpectedPosteriorEntropy(prior float64, confidence float64) float64 {
	c := clamp01(confidence)
	return prior * (1 - c) * 0.7
}

// Mode returns the most likely categorical value. Ties break on key order.
func Mode(dist map[string]float64) (string, bool) {
	best, bestP, found := "", math.Inf(-1), false
	for k, p := range dist {
		if p > bestP || (p == bestP && k < best) {
			best, bestP, found = k, p, true
		}
	}
	return best, found
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
