package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Backend performs the dense matrix multiplications the model spends most of
// its time in. Native computes each output row from its own input row alone, so
// projecting one row gives the same bits as projecting it inside a larger batch;
// the KV-cached generation path relies on that.
type Backend interface {
	Name() string
	// MatMul performs matrix multiplication: [m,k] x [k,n] -> [m,n]
	MatMul(a, b *Tensor) *Tensor
}

// BackendByName resolves a backend from its command-line name
func BackendByName(name string) (Backend, error) {
	switch name {
	case "", "native":
		return Native{}, nil
	case "gonum":
		return Gonum{}, nil
	default:
		return nil, fmt.Errorf("unknown tensor backend %q (want native or gonum)", name)
	}
}

func checkMatMul(a, b *Tensor) (m, k, n int) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		panic("MatMul requires 2D tensors")
	}
	if a.Shape[1] != b.Shape[0] {
		panic(fmt.Sprintf("incompatible shapes: [%d,%d] x [%d,%d]", a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]))
	}
	return a.Shape[0], a.Shape[1], b.Shape[1]
}

// parallelThreshold is the multiply-add count below which Native stays on one goroutine
const parallelThreshold = 1 << 16

// Native multiplies with plain Go loops, splitting output rows across goroutines
// for large products.
type Native struct {
	// Workers caps the goroutines used per product; 0 means GOMAXPROCS.
	Workers int
}

// Name implements Backend
func (Native) Name() string { return "native" }

// MatMul implements Backend
func (be Native) MatMul(a, b *Tensor) *Tensor {
	m, k, n := checkMatMul(a, b)
	result := NewTensor(m, n)

	row := func(i int) {
		out := result.Data[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := a.Data[i*k+p]
			brow := b.Data[p*n : (p+1)*n]
			for j, bv := range brow {
				out[j] += av * bv
			}
		}
	}

	workers := be.Workers
	if m*n*k < parallelThreshold {
		workers = 1
	}
	ParallelFor(m, workers, row)
	return result
}

// Gonum multiplies through gonum's BLAS-backed mat.Dense in float64 and rounds
// the result back to float32.
type Gonum struct{}

// Name implements Backend
func (Gonum) Name() string { return "gonum" }

// MatMul implements Backend
func (Gonum) MatMul(a, b *Tensor) *Tensor {
	m, k, n := checkMatMul(a, b)
	result := NewTensor(m, n)
	if m == 0 || n == 0 || k == 0 {
		return result
	}

	da := mat.NewDense(m, k, widen(a.Data))
	db := mat.NewDense(k, n, widen(b.Data))
	var dc mat.Dense
	dc.Mul(da, db)

	raw := dc.RawMatrix()
	for i := 0; i < m; i++ {
		src := raw.Data[i*raw.Stride : i*raw.Stride+n]
		dst := result.Data[i*n : (i+1)*n]
		for j, v := range src {
			dst[j] = float32(v)
		}
	}
	return result
}

func widen(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

// Linear applies x @ w (+ bias) over the last axis of x.
// x: [..., in], w: [in, out], bias: [out] or nil. Returns [..., out].
func Linear(be Backend, x, w, bias *Tensor) *Tensor {
	in := x.Dim(-1)
	if len(w.Shape) != 2 || w.Shape[0] != in {
		panic(fmt.Sprintf("linear weight %v does not accept input %v", w.Shape, x.Shape))
	}
	out := w.Shape[1]

	flat := x.Reshape(x.Rows(), in)
	result := be.MatMul(flat, w)
	if bias != nil {
		AddRowVector(result, bias)
	}

	shape := make([]int, len(x.Shape))
	copy(shape, x.Shape)
	shape[len(shape)-1] = out
	return result.Reshape(shape...)
}
