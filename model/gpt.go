package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"nano-gpt-go/tensor"
)

// DefaultSeed seeds the model's random source when no option overrides it
const DefaultSeed = 1337

// IgnoreIndex marks target positions excluded from the loss
const IgnoreIndex = -1

// GPT is a decoder-only transformer language model. The exported parameter
// tensors may be written in place, followed by Invalidate.
type GPT struct {
	cfg      ModelConfig
	be       tensor.Backend
	rng      *rand.Rand
	training bool
	// Bumped whenever parameters or the context length change
	epoch uint64

	TokenEmbedding *tensor.Tensor // wte [V, C]
	PosEmbedding   *tensor.Tensor // wpe [BlockSize, C]
	Blocks         []*Block
	LNF            *LayerNorm
	Head           *tensor.Tensor // [C, V]

	mask *tensor.Tensor
}

// Option configures a GPT at construction
type Option func(*options)

type options struct {
	be  tensor.Backend
	rng *rand.Rand
}

// WithBackend selects the matmul backend (default tensor.Native)
func WithBackend(be tensor.Backend) Option {
	return func(o *options) {
		o.be = be
	}
}

// WithSeed seeds the random source used for initialization and dropout
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithRand uses r for initialization and dropout
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

// NewGPT builds a model for cfg with freshly initialized parameters. The model
// starts in inference mode.
func NewGPT(cfg ModelConfig, opts ...Option) (*GPT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{be: tensor.Native{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(DefaultSeed, DefaultSeed))
	}

	g := &GPT{
		cfg:            cfg,
		be:             o.be,
		rng:            o.rng,
		TokenEmbedding: tensor.NewTensor(cfg.VocabSize, cfg.EmbedDim),
		PosEmbedding:   tensor.NewTensor(cfg.BlockSize, cfg.EmbedDim),
		LNF:            NewLayerNorm(cfg.EmbedDim, cfg.UseBias),
		Head:           tensor.NewTensor(cfg.EmbedDim, cfg.VocabSize),
		mask:           newCausalMask(cfg.BlockSize),
	}
	g.Blocks = make([]*Block, cfg.NumLayers)
	for i := range g.Blocks {
		g.Blocks[i] = NewBlock(cfg, o.be, g.mask, i)
	}

	g.initParameters()
	return g, nil
}

// Config returns the current configuration, reflecting any crop
func (g *GPT) Config() ModelConfig { return g.cfg }

// BlockSize is the longest sequence the model accepts
func (g *GPT) BlockSize() int { return g.cfg.BlockSize }

// VocabSize is the number of logits per position
func (g *GPT) VocabSize() int { return g.cfg.VocabSize }

// Backend returns the matmul backend
func (g *GPT) Backend() tensor.Backend { return g.be }

// SetTraining switches dropout on or off
func (g *GPT) SetTraining(training bool) {
	g.training = training
}

// Training reports whether dropout is active
func (g *GPT) Training() bool { return g.training }

func (g *GPT) state() *runState {
	return &runState{training: g.training, rng: g.rng}
}

// checkInput validates a batch of token ids and returns its dimensions
func (g *GPT) checkInput(idx [][]int) (B, T int, err error) {
	if B, T, err = g.checkBatch(idx); err != nil {
		return 0, 0, err
	}
	if T > g.cfg.BlockSize {
		return 0, 0, fmt.Errorf("%w: cannot forward sequence of length %d, block size is only %d", ErrSequenceTooLong, T, g.cfg.BlockSize)
	}
	return B, T, nil
}

// checkBatch checks that idx is a non-empty rectangle of in-vocabulary ids
func (g *GPT) checkBatch(idx [][]int) (B, T int, err error) {
	if len(idx) == 0 || len(idx[0]) == 0 {
		return 0, 0, fmt.Errorf("%w: empty input batch", ErrConfigMismatch)
	}
	B, T = len(idx), len(idx[0])
	for b, row := range idx {
		if len(row) != T {
			return 0, 0, fmt.Errorf("%w: row %d has %d tokens, row 0 has %d", ErrConfigMismatch, b, len(row), T)
		}
		for t, tok := range row {
			if tok < 0 || tok >= g.cfg.VocabSize {
				return 0, 0, fmt.Errorf("%w: token %d at [%d,%d] not in [0,%d)", ErrTokenOutOfRange, tok, b, t, g.cfg.VocabSize)
			}
		}
	}
	return B, T, nil
}

// hidden runs embeddings, blocks and the final norm for idx placed at absolute
// positions start..start+T-1. Returns [B, T, C].
func (g *GPT) hidden(idx [][]int, start int, cache *kvCache, rs *runState) (*tensor.Tensor, error) {
	B, T, C := len(idx), len(idx[0]), g.cfg.EmbedDim
	if start+T > g.cfg.BlockSize {
		return nil, fmt.Errorf("%w: positions up to %d exceed block size %d", ErrSequenceTooLong, start+T, g.cfg.BlockSize)
	}

	x := tensor.NewTensor(B, T, C)
	for b, row := range idx {
		for t, tok := range row {
			dst := x.Data[(b*T+t)*C : (b*T+t+1)*C]
			tokRow := g.TokenEmbedding.Data[tok*C : (tok+1)*C]
			posRow := g.PosEmbedding.Data[(start+t)*C : (start+t+1)*C]
			for c := range dst {
				dst[c] = tokRow[c] + posRow[c]
			}
		}
	}
	dropout(x.Data, g.cfg.DropoutProb, rs)

	var err error
	for _, block := range g.Blocks {
		if x, err = block.forward(x, rs, cache); err != nil {
			return nil, err
		}
	}
	return g.LNF.Forward(x)
}

// Forward returns logits [B, T, VocabSize] for a batch of equal-length sequences
func (g *GPT) Forward(idx [][]int) (*tensor.Tensor, error) {
	if _, _, err := g.checkInput(idx); err != nil {
		return nil, err
	}
	h, err := g.hidden(idx, 0, nil, g.state())
	if err != nil {
		return nil, err
	}
	return tensor.Linear(g.be, h, g.Head, nil), nil
}

// ForwardWithLoss returns the logits together with the mean cross-entropy over
// every position whose target is not IgnoreIndex. The loss is NaN when every
// target is ignored.
func (g *GPT) ForwardWithLoss(idx, targets [][]int) (*tensor.Tensor, float64, error) {
	B, T, err := g.checkInput(idx)
	if err != nil {
		return nil, 0, err
	}
	if len(targets) != B {
		return nil, 0, fmt.Errorf("%w: %d target rows for %d input rows", ErrConfigMismatch, len(targets), B)
	}
	for b, row := range targets {
		if len(row) != T {
			return nil, 0, fmt.Errorf("%w: target row %d has %d entries, want %d", ErrConfigMismatch, b, len(row), T)
		}
		for _, tok := range row {
			if tok != IgnoreIndex && (tok < 0 || tok >= g.cfg.VocabSize) {
				return nil, 0, fmt.Errorf("%w: target %d not in [0,%d)", ErrTokenOutOfRange, tok, g.cfg.VocabSize)
			}
		}
	}

	logits, err := g.Forward(idx)
	if err != nil {
		return nil, 0, err
	}

	V := g.cfg.VocabSize
	var total float64
	count := 0
	for b, row := range targets {
		for t, target := range row {
			if target == IgnoreIndex {
				continue
			}
			off := (b*T + t) * V
			total += crossEntropy(logits.Data[off:off+V], target)
			count++
		}
	}
	if count == 0 {
		return logits, math.NaN(), nil
	}
	return logits, total / float64(count), nil
}

// crossEntropy is -log softmax(logits)[target], computed in float64
func crossEntropy(logits []float32, target int) float64 {
	maxVal := float64(logits[0])
	for _, v := range logits[1:] {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxVal)
	}
	return math.Log(sum) + maxVal - float64(logits[target])
}

// lastLogits returns logits [B, VocabSize] for the final position of idx.
// With a cache, positions already cached for a prefix of idx are not recomputed.
func (g *GPT) lastLogits(idx [][]int, cache *kvCache) (*tensor.Tensor, error) {
	B, T, err := g.checkInput(idx)
	if err != nil {
		return nil, err
	}

	rs := g.state()
	start := 0
	input := idx
	if cache != nil {
		start = cache.reusable(idx, g.epoch)
		input = make([][]int, B)
		for b, row := range idx {
			input[b] = row[start:]
		}
	}

	h, err := g.hidden(input, start, cache, rs)
	if err != nil {
		if cache != nil {
			cache.release()
		}
		return nil, err
	}
	if cache != nil {
		cache.commit(idx)
	}

	C := g.cfg.EmbedDim
	n := T - start
	last := tensor.NewTensor(B, C)
	for b := 0; b < B; b++ {
		copy(last.Data[b*C:(b+1)*C], h.Data[(b*n+n-1)*C:(b*n+n)*C])
	}
	return tensor.Linear(g.be, last, g.Head, nil), nil
}

// CropContextLength shrinks the block size to n, truncating the position
// table and rebuilding the causal mask. It fails without changing anything if
// n is not in [1, BlockSize].
func (g *GPT) CropContextLength(n int) error {
	if n <= 0 || n > g.cfg.BlockSize {
		return fmt.Errorf("%w: cannot crop block size %d to %d", ErrConfigMismatch, g.cfg.BlockSize, n)
	}

	g.PosEmbedding = g.PosEmbedding.Slice(0, n).Clone()
	g.mask = newCausalMask(n)
	for _, block := range g.Blocks {
		block.Attn.mask = g.mask
		block.Attn.cfg.BlockSize = n
	}
	g.cfg.BlockSize = n
	g.Invalidate()
	return nil
}

// NumParams counts parameters. With nonEmbedding the position table is left
// out, matching how GPT-2 model sizes are usually quoted.
func (g *GPT) NumParams(nonEmbedding bool) int {
	n := 0
	for _, p := range g.Parameters() {
		n += p.Tensor.Size()
	}
	if nonEmbedding {
		n -= g.PosEmbedding.Size()
	}
	return n
}
