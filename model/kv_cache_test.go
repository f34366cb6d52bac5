package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"nano-gpt-go/tensor"
)

func TestKVCacheReuse(t *testing.T) {
	c := newKVCache(2)
	c.commit([][]int{{1, 2, 3}})

	if n := c.reusable([][]int{{1, 2, 3, 4}}, 0); n != 3 {
		t.Errorf("extension: reusable = %d, want 3", n)
	}

	tests := []struct {
		name  string
		idx   [][]int
		epoch uint64
	}{
		{"same length", [][]int{{1, 2, 3}}, 0},
		{"changed prefix", [][]int{{1, 9, 3, 4}}, 0},
		{"slid window", [][]int{{2, 3, 4, 5}}, 0},
		{"different batch", [][]int{{1, 2, 3, 4}, {1, 2, 3, 4}}, 0},
		{"new epoch", [][]int{{1, 2, 3, 4}}, 1},
	}
	for _, tt := range tests {
		c.commit([][]int{{1, 2, 3}})
		c.epoch = 0
		c.arena = append(c.arena, kvEntry{})
		if n := c.reusable(tt.idx, tt.epoch); n != 0 {
			t.Errorf("%s: reusable = %d, want 0", tt.name, n)
		}
		if c.length() != 0 || len(c.arena) != 0 {
			t.Errorf("%s: cache not released on miss", tt.name)
		}
	}
}

func TestFingerprintSeparatesRows(t *testing.T) {
	a := fingerprint([][]int{{1, 2}, {3, 4}}, 2)
	b := fingerprint([][]int{{1, 2}, {3, 4}}, 2)
	c := fingerprint([][]int{{1, 2}, {4, 3}}, 2)
	if a != b {
		t.Errorf("fingerprint not stable")
	}
	if a == c {
		t.Errorf("different prefixes share a fingerprint")
	}
}

func TestKVCacheExtendConcatenates(t *testing.T) {
	c := newKVCache(1)
	// B=1, H=2, D=1
	k1 := tensor.FromSlice([]float32{1, 2, 10, 20}, 1, 2, 2, 1)
	v1 := tensor.FromSlice([]float32{-1, -2, -10, -20}, 1, 2, 2, 1)
	c.extend(0, k1, v1)

	k2 := tensor.FromSlice([]float32{3, 30}, 1, 2, 1, 1)
	v2 := tensor.FromSlice([]float32{-3, -30}, 1, 2, 1, 1)
	keys, values := c.extend(0, k2, v2)

	if diff := cmp.Diff([]int{1, 2, 3, 1}, keys.Shape); diff != "" {
		t.Errorf("keys shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 10, 20, 30}, keys.Data); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{-1, -2, -3, -10, -20, -30}, values.Data); diff != "" {
		t.Errorf("values (-want +got):\n%s", diff)
	}
	if len(c.arena) != 2 || len(c.layers[0]) != 2 {
		t.Errorf("Expected 2 arena entries indexed by layer 0, got %d/%d", len(c.arena), len(c.layers[0]))
	}

	c.release()
	if len(c.arena) != 0 || c.layers[0] != nil {
		t.Errorf("release should drop every entry")
	}
}
