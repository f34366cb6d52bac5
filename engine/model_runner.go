package engine

import "context"

// ModelRunner samples the next token for each scheduled sequence. Run
// returns one token per sequence in the same order, drawn with the
// sequence's own Params and Rand.
type ModelRunner interface {
	Run(ctx context.Context, seqs []*Sequence) ([]int, error)
	// Release drops any per-sequence state. It is safe to call more than once.
	Release(seq *Sequence)
	Close() error
}
