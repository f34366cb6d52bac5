package model

import (
	"fmt"

	"nano-gpt-go/tensor"
)

// NamedParameter pairs a parameter tensor with its checkpoint name
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Parameters lists every parameter in a stable order using GPT-2 checkpoint
// names. Biases and LayerNorm shifts are absent when the config has no bias.
func (g *GPT) Parameters() []NamedParameter {
	var params []NamedParameter
	add := func(name string, t *tensor.Tensor) {
		if t != nil {
			params = append(params, NamedParameter{Name: name, Tensor: t})
		}
	}

	add("wte.weight", g.TokenEmbedding)
	add("wpe.weight", g.PosEmbedding)
	for i, b := range g.Blocks {
		prefix := fmt.Sprintf("h.%d.", i)
		add(prefix+"ln_1.weight", b.LN1.Weight)
		add(prefix+"ln_1.bias", b.LN1.Bias)
		add(prefix+"attn.c_attn.weight", b.Attn.QKV)
		add(prefix+"attn.c_attn.bias", b.Attn.QKVBias)
		add(prefix+"attn.c_proj.weight", b.Attn.Proj)
		add(prefix+"attn.c_proj.bias", b.Attn.ProjBias)
		add(prefix+"ln_2.weight", b.LN2.Weight)
		add(prefix+"ln_2.bias", b.LN2.Bias)
		add(prefix+"mlp.c_fc.weight", b.MLP.FC)
		add(prefix+"mlp.c_fc.bias", b.MLP.FCBias)
		add(prefix+"mlp.c_proj.weight", b.MLP.Proj)
		add(prefix+"mlp.c_proj.bias", b.MLP.ProjBias)
	}
	add("ln_f.weight", g.LNF.Weight)
	add("ln_f.bias", g.LNF.Bias)
	add("lm_head.weight", g.Head)
	return params
}

// Parameter looks up a parameter by name. The tensor is live: after writing
// into it directly, call Invalidate so open generators drop their caches.
func (g *GPT) Parameter(name string) (*tensor.Tensor, bool) {
	for _, p := range g.Parameters() {
		if p.Name == name {
			return p.Tensor, true
		}
	}
	return nil, false
}

// SetParameter copies values into the named parameter. The shape must match
// the existing parameter exactly.
func (g *GPT) SetParameter(name string, values *tensor.Tensor) error {
	dst, ok := g.Parameter(name)
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", ErrConfigMismatch, name)
	}
	if !tensor.SameShape(dst, values) {
		return fmt.Errorf("%w: parameter %q has shape %v, got %v", ErrConfigMismatch, name, dst.Shape, values.Shape)
	}
	copy(dst.Data, values.Data)
	g.Invalidate()
	return nil
}

// Invalidate marks every key/value cache built so far as stale. SetParameter
// and CropContextLength call it; code that updates parameter tensors in place
// must call it itself.
func (g *GPT) Invalidate() {
	g.epoch++
}
