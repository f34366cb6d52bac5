package tensor

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func randomTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t
}

func TestMatMulSmall(t *testing.T) {
	a := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := FromSlice([]float32{7, 8, 9, 10, 11, 12}, 3, 2)
	want := []float32{58, 64, 139, 154}

	for _, be := range []Backend{Native{}, Native{Workers: 2}, Gonum{}} {
		got := be.MatMul(a, b)
		if diff := cmp.Diff([]int{2, 2}, got.Shape); diff != "" {
			t.Errorf("%s: shape (-want +got):\n%s", be.Name(), diff)
		}
		if diff := cmp.Diff(want, got.Data); diff != "" {
			t.Errorf("%s: data (-want +got):\n%s", be.Name(), diff)
		}
	}
}

func TestMatMulPropagatesNonFinite(t *testing.T) {
	inf := float32(math.Inf(1))
	a := FromSlice([]float32{0, 1}, 1, 2)
	b := FromSlice([]float32{inf, 2, 3, 4}, 2, 2)

	for _, be := range []Backend{Native{}, Native{Workers: 2}} {
		got := be.MatMul(a, b)
		if !math.IsNaN(float64(got.Data[0])) {
			t.Errorf("%s: 0*Inf + 1*3 = %v, want NaN", be.Name(), got.Data[0])
		}
		if got.Data[1] != 4 {
			t.Errorf("%s: finite column = %v, want 4", be.Name(), got.Data[1])
		}
	}
}

func TestBackendsAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	// Large enough to cross the parallel threshold
	a := randomTensor(rng, 96, 64)
	b := randomTensor(rng, 64, 80)

	serial := Native{Workers: 1}.MatMul(a, b)
	parallel := Native{}.MatMul(a, b)
	if !Equal(serial, parallel) {
		t.Errorf("row-parallel native matmul differs from serial")
	}

	viaGonum := Gonum{}.MatMul(a, b)
	if diff := cmp.Diff(serial.Data, viaGonum.Data, cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("gonum and native disagree (-native +gonum):\n%s", diff)
	}
}

func TestMatMulRowIndependent(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	a := randomTensor(rng, 5, 16)
	b := randomTensor(rng, 16, 8)

	for _, be := range []Backend{Native{}, Native{Workers: 1}} {
		full := be.MatMul(a, b)
		for r := 0; r < 5; r++ {
			single := be.MatMul(a.Slice(r, r+1), b)
			if !Equal(single, full.Slice(r, r+1)) {
				t.Errorf("workers=%d: row %d differs when computed alone", be.(Native).Workers, r)
			}
		}
	}
}

func TestMatMulEmpty(t *testing.T) {
	for _, be := range []Backend{Native{}, Gonum{}} {
		got := be.MatMul(NewTensor(0, 4), NewTensor(4, 3))
		if diff := cmp.Diff([]int{0, 3}, got.Shape); diff != "" {
			t.Errorf("%s: shape (-want +got):\n%s", be.Name(), diff)
		}
	}
}

func TestLinearKeepsLeadingDims(t *testing.T) {
	x := Full(1, 2, 3, 4)
	w := Full(0.5, 4, 5)
	bias := Full(1, 5)

	y := Linear(Native{}, x, w, bias)
	if diff := cmp.Diff([]int{2, 3, 5}, y.Shape); diff != "" {
		t.Errorf("shape (-want +got):\n%s", diff)
	}
	for i, v := range y.Data {
		if v != 3 {
			t.Fatalf("element %d = %v, want 3", i, v)
		}
	}
}

func TestBackendByName(t *testing.T) {
	for _, name := range []string{"", "native", "gonum"} {
		if _, err := BackendByName(name); err != nil {
			t.Errorf("BackendByName(%q): %v", name, err)
		}
	}
	if _, err := BackendByName("cuda"); err == nil {
		t.Errorf("expected error for unknown backend")
	}
}
