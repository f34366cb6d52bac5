package model

import (
	"nano-gpt-go/tensor"
)

// FeedForward is the position-wise MLP: C -> 4C -> GELU -> C
type FeedForward struct {
	cfg ModelConfig
	be  tensor.Backend

	FC       *tensor.Tensor // [C, 4C]
	FCBias   *tensor.Tensor // [4C], nil without bias
	Proj     *tensor.Tensor // [4C, C]
	ProjBias *tensor.Tensor // [C], nil without bias
}

// NewFeedForward allocates zeroed projections
func NewFeedForward(cfg ModelConfig, be tensor.Backend) *FeedForward {
	C := cfg.EmbedDim
	f := &FeedForward{
		cfg:  cfg,
		be:   be,
		FC:   tensor.NewTensor(C, 4*C),
		Proj: tensor.NewTensor(4*C, C),
	}
	if cfg.UseBias {
		f.FCBias = tensor.NewTensor(4 * C)
		f.ProjBias = tensor.NewTensor(C)
	}
	return f
}

func (f *FeedForward) forward(x *tensor.Tensor, rs *runState) *tensor.Tensor {
	h := tensor.GELU(tensor.Linear(f.be, x, f.FC, f.FCBias))
	out := tensor.Linear(f.be, h, f.Proj, f.ProjBias)
	dropout(out.Data, f.cfg.DropoutProb, rs)
	return out
}

// Block is one pre-norm transformer layer:
//
//	x = x + Attn(LN1(x))
//	x = x + MLP(LN2(x))
type Block struct {
	layer int

	LN1  *LayerNorm
	Attn *CausalSelfAttention
	LN2  *LayerNorm
	MLP  *FeedForward
}

// NewBlock creates layer number layer, sharing mask with the other layers
func NewBlock(cfg ModelConfig, be tensor.Backend, mask *tensor.Tensor, layer int) *Block {
	return &Block{
		layer: layer,
		LN1:   NewLayerNorm(cfg.EmbedDim, cfg.UseBias),
		Attn:  NewCausalSelfAttention(cfg, be, mask),
		LN2:   NewLayerNorm(cfg.EmbedDim, cfg.UseBias),
		MLP:   NewFeedForward(cfg, be),
	}
}

func (b *Block) forward(x *tensor.Tensor, rs *runState, cache *kvCache) (*tensor.Tensor, error) {
	h, err := b.LN1.Forward(x)
	if err != nil {
		return nil, err
	}
	a, err := b.Attn.forward(h, rs, cache, b.layer)
	if err != nil {
		return nil, err
	}
	x = tensor.Add(x, a)

	h, err = b.LN2.Forward(x)
	if err != nil {
		return nil, err
	}
	tensor.AddInPlace(x, b.MLP.forward(h, rs))
	return x, nil
}
