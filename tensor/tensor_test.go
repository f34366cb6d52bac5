package tensor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestNewTensorCopiesShape(t *testing.T) {
	shape := []int{2, 3}
	x := NewTensor(shape...)
	shape[0] = 5

	if diff := cmp.Diff([]int{2, 3}, x.Shape); diff != "" {
		t.Errorf("shape aliased caller slice (-want +got):\n%s", diff)
	}
	if len(x.Data) != 6 {
		t.Errorf("Expected 6 elements, got %d", len(x.Data))
	}
}

func TestAtSetAndSlice(t *testing.T) {
	x := NewTensor(2, 3, 4)
	x.Set(7, 1, 2, 3)
	if got := x.At(1, 2, 3); got != 7 {
		t.Errorf("At(1,2,3) = %v, want 7", got)
	}
	if x.Data[len(x.Data)-1] != 7 {
		t.Errorf("last element not set in row-major order")
	}

	s := x.Slice(1, 2)
	if diff := cmp.Diff([]int{1, 3, 4}, s.Shape); diff != "" {
		t.Errorf("slice shape (-want +got):\n%s", diff)
	}
	s.Set(3, 0, 0, 0)
	if x.At(1, 0, 0) != 3 {
		t.Errorf("slice should share storage with parent")
	}
}

func TestReshapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on size mismatch")
		}
	}()
	NewTensor(2, 3).Reshape(4, 2)
}

func TestSoftmaxRows(t *testing.T) {
	x := FromSlice([]float32{
		1, 2, 3,
		-1e9, 0, -1e9,
	}, 2, 3)
	y := NewTensor(2, 3)
	for r := 0; r < 2; r++ {
		SoftmaxRow(y.Data[r*3:(r+1)*3], x.Data[r*3:(r+1)*3])
	}

	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			sum += y.At(r, c)
		}
		if math.Abs(float64(sum-1)) > 1e-6 {
			t.Errorf("row %d sums to %v", r, sum)
		}
	}
	// Masked entries underflow to exactly zero
	if y.At(1, 0) != 0 || y.At(1, 2) != 0 || y.At(1, 1) != 1 {
		t.Errorf("masked row = %v, want [0 1 0]", y.Data[3:])
	}
	if !(y.At(0, 0) < y.At(0, 1) && y.At(0, 1) < y.At(0, 2)) {
		t.Errorf("softmax should preserve ordering, got %v", y.Data[:3])
	}
}

func TestGELU(t *testing.T) {
	x := FromSlice([]float32{-3, 0, 1, 3}, 4)
	got := GELU(x).Data
	want := []float32{-0.0036373, 0, 0.8411920, 2.9963627}

	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Errorf("GELU mismatch (-want +got):\n%s", diff)
	}
}

func TestArgMaxTies(t *testing.T) {
	tests := []struct {
		in   []float32
		want int
	}{
		{[]float32{1, 3, 2}, 1},
		{[]float32{5, 5, 1}, 0},
		{[]float32{-2, -1, -1}, 1},
		{[]float32{0}, 0},
	}
	for _, tt := range tests {
		if got := ArgMax(tt.in); got != tt.want {
			t.Errorf("ArgMax(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParallelForVisitsEachIndexOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 64} {
		counts := make([]int, 37)
		ParallelFor(len(counts), workers, func(i int) { counts[i]++ })
		for i, c := range counts {
			if c != 1 {
				t.Errorf("workers=%d: index %d visited %d times", workers, i, c)
			}
		}
	}
}

func TestEqualIsBitwise(t *testing.T) {
	a := FromSlice([]float32{0, 1}, 2)
	b := FromSlice([]float32{float32(math.Copysign(0, -1)), 1}, 2)
	if Equal(a, b) {
		t.Errorf("+0 and -0 should not compare bit-identical")
	}
	if !Equal(a, a.Clone()) {
		t.Errorf("clone should be bit-identical")
	}
	if Equal(a, a.Reshape(1, 2)) {
		t.Errorf("different shapes should not be equal")
	}
}
