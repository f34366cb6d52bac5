package model

import (
	"math/rand/v2"
)

// dropout zeroes each element with probability p and scales survivors by
// 1/(1-p). It is a no-op outside training or when p is zero.
func dropout(data []float32, p float64, rs *runState) {
	if !rs.training || p == 0 {
		return
	}
	scale := float32(1 / (1 - p))
	for i := range data {
		if rs.rng.Float64() < p {
			data[i] = 0
		} else {
			data[i] *= scale
		}
	}
}

// runState carries the per-call mode through the layers
type runState struct {
	training bool
	rng      *rand.Rand
}
