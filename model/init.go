package model

import (
	"gonum.org/v1/gonum/stat/distuv"

	"nano-gpt-go/tensor"
)

// initStd is the standard deviation of every weight matrix at initialization
const initStd = 0.02

// initParameters draws embeddings and projection weights from N(0, initStd).
// Biases stay zero and LayerNorm scales stay one.
func (g *GPT) initParameters() {
	normal := distuv.Normal{Mu: 0, Sigma: initStd, Src: g.rng}
	fill := func(t *tensor.Tensor) {
		for i := range t.Data {
			t.Data[i] = float32(normal.Rand())
		}
	}

	fill(g.TokenEmbedding)
	fill(g.PosEmbedding)
	for _, b := range g.Blocks {
		fill(b.Attn.QKV)
		fill(b.Attn.Proj)
		fill(b.MLP.FC)
		fill(b.MLP.Proj)
	}
	fill(g.Head)
}
