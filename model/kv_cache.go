package model

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"nano-gpt-go/tensor"
)

// kvEntry is one step's keys and values for one layer, each [B, H, T, D]
type kvEntry struct {
	k, v *tensor.Tensor
}

// kvCache keeps past keys and values during generation. Entries are appended to
// a single arena and each layer records the arena indices of its own entries in
// step order. Nothing is freed until the whole cache is released.
type kvCache struct {
	arena  []kvEntry
	layers [][]int

	// Prefix the arena was built from
	tokens [][]int
	digest uint64
	epoch  uint64
}

func newKVCache(numLayers int) *kvCache {
	return &kvCache{layers: make([][]int, numLayers)}
}

// fingerprint hashes the first n tokens of every row
func fingerprint(idx [][]int, n int) uint64 {
	h := xxhash.New()
	buf := make([]byte, 4)
	for _, row := range idx {
		for _, tok := range row[:n] {
			binary.LittleEndian.PutUint32(buf, uint32(tok))
			h.Write(buf)
		}
		// Row separator so [1 2][3] and [1][2 3] differ
		binary.LittleEndian.PutUint32(buf, ^uint32(0))
		h.Write(buf)
	}
	return h.Sum64()
}

// length is the number of cached positions
func (c *kvCache) length() int {
	if len(c.tokens) == 0 {
		return 0
	}
	return len(c.tokens[0])
}

// reusable returns how many leading positions of idx are already cached.
// Anything other than a strict extension of the cached prefix under the same
// model epoch clears the cache and reports zero.
func (c *kvCache) reusable(idx [][]int, epoch uint64) int {
	n := c.length()
	hit := n > 0 && epoch == c.epoch && len(idx) == len(c.tokens) && len(idx[0]) > n &&
		fingerprint(idx, n) == c.digest
	if hit {
		// Hash matched, verify the tokens themselves
		for b, row := range idx {
			for t, tok := range row[:n] {
				if c.tokens[b][t] != tok {
					hit = false
				}
			}
		}
	}
	if !hit {
		c.release()
		c.epoch = epoch
		return 0
	}
	return n
}

// commit records idx as the prefix the cache now holds
func (c *kvCache) commit(idx [][]int) {
	c.tokens = make([][]int, len(idx))
	for b, row := range idx {
		c.tokens[b] = append([]int(nil), row...)
	}
	c.digest = fingerprint(idx, len(idx[0]))
}

// extend appends this step's keys and values for layer and returns all of the
// layer's keys and values so far, concatenated along time.
func (c *kvCache) extend(layer int, k, v *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	c.arena = append(c.arena, kvEntry{k: k, v: v})
	c.layers[layer] = append(c.layers[layer], len(c.arena)-1)

	entries := c.layers[layer]
	if len(entries) == 1 {
		return k, v
	}

	B, H, D := k.Shape[0], k.Shape[1], k.Shape[3]
	total := 0
	for _, i := range entries {
		total += c.arena[i].k.Shape[2]
	}

	keys := tensor.NewTensor(B, H, total, D)
	values := tensor.NewTensor(B, H, total, D)
	for bh := 0; bh < B*H; bh++ {
		dst := bh * total * D
		for _, i := range entries {
			e := c.arena[i]
			T := e.k.Shape[2]
			src := bh * T * D
			copy(keys.Data[dst:dst+T*D], e.k.Data[src:src+T*D])
			copy(values.Data[dst:dst+T*D], e.v.Data[src:src+T*D])
			dst += T * D
		}
	}
	return keys, values
}

// release drops every entry at once
func (c *kvCache) release() {
	c.arena = nil
	for i := range c.layers {
		c.layers[i] = nil
	}
	c.tokens = nil
	c.digest = 0
}
