package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"nano-gpt-go/tensor"
)

// SamplingParams controls how the next token is drawn from the logits
type SamplingParams struct {
	Temperature float64
	TopK        int // 0 keeps the whole vocabulary
}

// SamplingOption is a functional option for SamplingParams
type SamplingOption func(*SamplingParams)

// NewSamplingParams creates SamplingParams with temperature 1 and no top-k
// filtering, then applies opts.
func NewSamplingParams(opts ...SamplingOption) (SamplingParams, error) {
	sp := SamplingParams{Temperature: 1.0}
	for _, opt := range opts {
		opt(&sp)
	}
	if err := sp.validate(0); err != nil {
		return SamplingParams{}, err
	}
	return sp, nil
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.Temperature = t
	}
}

// WithTopK restricts sampling to the k most likely tokens
func WithTopK(k int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.TopK = k
		if k <= 0 {
			// Reject explicitly requested non-positive k instead of treating it as disabled
			sp.TopK = -1
		}
	}
}

// Validate checks the temperature and top-k without knowing the vocabulary size
func (sp SamplingParams) Validate() error {
	return sp.validate(0)
}

// validate checks the parameters; vocabSize 0 skips the top-k upper bound
func (sp SamplingParams) validate(vocabSize int) error {
	if !(sp.Temperature > 0) || math.IsInf(sp.Temperature, 1) {
		return fmt.Errorf("%w: temperature must be positive and finite, got %g", ErrInvalidSamplingParameter, sp.Temperature)
	}
	if sp.TopK < 0 {
		return fmt.Errorf("%w: top-k must be at least 1", ErrInvalidSamplingParameter)
	}
	if vocabSize > 0 && sp.TopK > vocabSize {
		return fmt.Errorf("%w: top-k %d exceeds vocabulary size %d", ErrInvalidSamplingParameter, sp.TopK, vocabSize)
	}
	return nil
}

// Sample draws one token id from logits. Temperature divides the logits,
// top-k keeps the k highest (ties go to the lower id), and the draw is taken
// from the softmax of what remains using one value from rng.
func Sample(logits []float32, sp SamplingParams, rng *rand.Rand) (int, error) {
	if err := sp.validate(len(logits)); err != nil {
		return 0, err
	}
	r := rng.Float64()
	if sp.TopK == 1 {
		return tensor.ArgMax(logits), nil
	}
	probs := sp.distribution(logits)

	var cum float64
	last := 0
	for i, p := range probs {
		if p == 0 {
			continue
		}
		cum += p
		last = i
		if r < cum {
			return i, nil
		}
	}
	// Rounding left cum just under 1
	return last, nil
}

// distribution returns the sampling probabilities in float64. The kept
// maximum is subtracted before dividing by the temperature, so a tiny
// temperature drives every other weight to zero instead of overflowing.
func (sp SamplingParams) distribution(logits []float32) []float64 {
	keep := make([]bool, len(logits))
	if sp.TopK > 0 && sp.TopK < len(logits) {
		order := make([]int, len(logits))
		for i := range order {
			order[i] = i
		}
		// Dividing by a positive temperature keeps the order
		sort.SliceStable(order, func(a, b int) bool {
			return logits[order[a]] > logits[order[b]]
		})
		for _, i := range order[:sp.TopK] {
			keep[i] = true
		}
	} else {
		for i := range keep {
			keep[i] = true
		}
	}

	maxVal := math.Inf(-1)
	for i, v := range logits {
		if keep[i] && float64(v) > maxVal {
			maxVal = float64(v)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		if keep[i] {
			probs[i] = math.Exp((float64(v) - maxVal) / sp.Temperature)
			sum += probs[i]
		}
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
