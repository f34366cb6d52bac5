// Package runner provides engine.ModelRunner implementations: one backed by
// the in-process GPT and one backed by an exported ONNX graph.
package runner

import (
	"context"
	"fmt"

	"nano-gpt-go/engine"
	"nano-gpt-go/model"
)

// nativeState is a generator plus the sequence length it has seen
type nativeState struct {
	gen *model.Generator
	n   int
}

// Native implements engine.ModelRunner with the pure Go GPT. Each sequence
// keeps its own Generator, so decode steps reuse the key/value cache.
type Native struct {
	model       *model.GPT
	genOpts     []model.GeneratorOption
	states      map[int64]*nativeState
	initialized bool
}

// NewNative creates a runner over g. opts are passed to every Generator.
func NewNative(g *model.GPT, opts ...model.GeneratorOption) *Native {
	return &Native{
		model:       g,
		genOpts:     opts,
		states:      make(map[int64]*nativeState),
		initialized: true,
	}
}

// Run implements engine.ModelRunner
func (m *Native) Run(ctx context.Context, seqs []*engine.Sequence) ([]int, error) {
	if !m.initialized {
		return nil, fmt.Errorf("model runner not initialized")
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no sequences to process")
	}

	tokenIDs := make([]int, len(seqs))
	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := m.state(seq)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		next, err := st.gen.Step()
		if err != nil {
			m.Release(seq)
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		st.n++
		tokenIDs[i] = next[0]
	}
	return tokenIDs, nil
}

// state returns the generator for seq, rebuilding it when the sequence has
// changed outside this runner.
func (m *Native) state(seq *engine.Sequence) (*nativeState, error) {
	if st, ok := m.states[seq.SeqID]; ok && st.n == seq.Len() {
		return st, nil
	}
	m.Release(seq)
	gen, err := m.model.NewGenerator([][]int{seq.TokenIDs}, seq.Params, seq.Rand, m.genOpts...)
	if err != nil {
		return nil, err
	}
	st := &nativeState{gen: gen, n: seq.Len()}
	m.states[seq.SeqID] = st
	return st, nil
}

// Release implements engine.ModelRunner
func (m *Native) Release(seq *engine.Sequence) {
	if st, ok := m.states[seq.SeqID]; ok {
		st.gen.Close()
		delete(m.states, seq.SeqID)
	}
}

// Close implements engine.ModelRunner
func (m *Native) Close() error {
	for id, st := range m.states {
		st.gen.Close()
		delete(m.states, id)
	}
	m.initialized = false
	return nil
}
