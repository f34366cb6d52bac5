package tensor

import (
	"fmt"
	"math"
)

// Add performs element-wise addition
func Add(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic(fmt.Sprintf("tensors must have same size: %v vs %v", a.Shape, b.Shape))
	}
	result := NewTensor(a.Shape...)
	for i := range a.Data {
		result.Data[i] = a.Data[i] + b.Data[i]
	}
	return result
}

// AddInPlace adds src into dst element-wise
func AddInPlace(dst, src *Tensor) {
	if len(dst.Data) != len(src.Data) {
		panic(fmt.Sprintf("tensors must have same size: %v vs %v", dst.Shape, src.Shape))
	}
	for i := range src.Data {
		dst.Data[i] += src.Data[i]
	}
}

// AddRowVector adds a vector of length Shape[-1] to every row of t in place
func AddRowVector(t, v *Tensor) {
	cols := t.Dim(-1)
	if len(v.Data) != cols {
		panic(fmt.Sprintf("row vector of length %d does not match last dimension %d", len(v.Data), cols))
	}
	for off := 0; off < len(t.Data); off += cols {
		row := t.Data[off : off+cols]
		for j := range row {
			row[j] += v.Data[j]
		}
	}
}

// Transpose swaps dimensions of a 2D tensor
func Transpose(t *Tensor) *Tensor {
	if len(t.Shape) != 2 {
		panic("Transpose requires 2D tensor")
	}
	m, n := t.Shape[0], t.Shape[1]
	result := NewTensor(n, m)

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			result.Data[j*m+i] = t.Data[i*n+j]
		}
	}
	return result
}

// SoftmaxRow writes softmax(src) into dst. Both slices must have equal length.
func SoftmaxRow(dst, src []float32) {
	// Find max for numerical stability
	maxVal := src[0]
	for _, v := range src[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	sum := float32(0)
	for i, v := range src {
		e := float32(math.Exp(float64(v - maxVal)))
		dst[i] = e
		sum += e
	}

	for i := range dst {
		dst[i] /= sum
	}
}

// GELU activation function (tanh approximation)
func GELU(t *Tensor) *Tensor {
	result := NewTensor(t.Shape...)
	for i, x := range t.Data {
		// 0.5 * x * (1 + tanh(sqrt(2/pi) * (x + 0.044715 * x^3)))
		x3 := x * x * x
		inner := math.Sqrt(2.0/math.Pi) * float64(x+0.044715*x3)
		result.Data[i] = 0.5 * x * (1.0 + float32(math.Tanh(inner)))
	}
	return result
}

// ArgMax returns the index of the largest element; ties resolve to the lowest index
func ArgMax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
