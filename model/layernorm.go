package model

import (
	"fmt"
	"math"

	"nano-gpt-go/tensor"
)

// layerNormEps is added to the variance before the square root
const layerNormEps = 1e-5

// LayerNorm normalizes each position over its last axis and applies a learned
// scale and, when the model uses biases, a learned shift.
type LayerNorm struct {
	Dim    int
	Weight *tensor.Tensor // [Dim]
	Bias   *tensor.Tensor // [Dim], nil without bias
}

// NewLayerNorm creates a LayerNorm with unit scale and zero shift
func NewLayerNorm(dim int, useBias bool) *LayerNorm {
	ln := &LayerNorm{
		Dim:    dim,
		Weight: tensor.Full(1, dim),
	}
	if useBias {
		ln.Bias = tensor.NewTensor(dim)
	}
	return ln
}

// Forward returns a new tensor of the same shape as x
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 || x.Dim(-1) != ln.Dim {
		return nil, fmt.Errorf("%w: layer norm over %d features got input %v", ErrConfigMismatch, ln.Dim, x.Shape)
	}

	out := tensor.NewTensor(x.Shape...)
	for off := 0; off < len(x.Data); off += ln.Dim {
		src := x.Data[off : off+ln.Dim]
		dst := out.Data[off : off+ln.Dim]
		normalize(dst, src)

		for j := range dst {
			dst[j] *= ln.Weight.Data[j]
		}
		if ln.Bias != nil {
			for j := range dst {
				dst[j] += ln.Bias.Data[j]
			}
		}
	}
	return out, nil
}

// normalize writes (src - mean) / sqrt(var + eps) into dst, using the biased variance
func normalize(dst, src []float32) {
	n := float32(len(src))

	var mean float32
	for _, v := range src {
		mean += v
	}
	mean /= n

	var variance float32
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= n

	inv := float32(1.0 / math.Sqrt(float64(variance)+layerNormEps))
	for j, v := range src {
		dst[j] = (v - mean) * inv
	}
}
