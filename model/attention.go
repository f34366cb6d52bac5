package model

import (
	"fmt"
	"math"

	"nano-gpt-go/tensor"
)

// maskValue is added to scores of future positions
const maskValue = -1e9

// newCausalMask builds the [n, n] additive mask: 0 on and below the diagonal, maskValue above
func newCausalMask(n int) *tensor.Tensor {
	mask := tensor.NewTensor(n, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			mask.Data[i*n+j] = maskValue
		}
	}
	return mask
}

// CausalSelfAttention is multi-head self-attention restricted to past and
// present positions, with query, key and value produced by one fused projection.
type CausalSelfAttention struct {
	cfg ModelConfig
	be  tensor.Backend

	QKV      *tensor.Tensor // [C, 3C]
	QKVBias  *tensor.Tensor // [3C], nil without bias
	Proj     *tensor.Tensor // [C, C]
	ProjBias *tensor.Tensor // [C], nil without bias

	// Shared with every other layer of the model, never written
	mask *tensor.Tensor
}

// NewCausalSelfAttention allocates zeroed projections. A nil mask gets a fresh
// one sized to cfg.BlockSize.
func NewCausalSelfAttention(cfg ModelConfig, be tensor.Backend, mask *tensor.Tensor) *CausalSelfAttention {
	C := cfg.EmbedDim
	if mask == nil {
		mask = newCausalMask(cfg.BlockSize)
	}
	a := &CausalSelfAttention{
		cfg:  cfg,
		be:   be,
		QKV:  tensor.NewTensor(C, 3*C),
		Proj: tensor.NewTensor(C, C),
		mask: mask,
	}
	if cfg.UseBias {
		a.QKVBias = tensor.NewTensor(3 * C)
		a.ProjBias = tensor.NewTensor(C)
	}
	return a
}

// forward maps x [B, T, C] to [B, T, C]. With a cache, x holds only the new
// positions and attends over everything cached for this layer as well.
func (a *CausalSelfAttention) forward(x *tensor.Tensor, rs *runState, cache *kvCache, layer int) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 || x.Shape[2] != a.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: attention expects [B, T, %d], got %v", ErrConfigMismatch, a.cfg.EmbedDim, x.Shape)
	}

	qkv := tensor.Linear(a.be, x, a.QKV, a.QKVBias)
	q, k, v := splitHeads(qkv, a.cfg.NumHeads)
	if cache != nil {
		k, v = cache.extend(layer, k, v)
	}

	if limit := a.mask.Shape[0]; k.Shape[2] > limit {
		return nil, fmt.Errorf("%w: %d positions exceed block size %d", ErrSequenceTooLong, k.Shape[2], limit)
	}

	y, _ := a.attend(q, k, v, rs)
	out := tensor.Linear(a.be, y, a.Proj, a.ProjBias)
	dropout(out.Data, a.cfg.DropoutProb, rs)
	return out, nil
}

// attend computes softmax(q kᵀ / sqrt(D) + mask) v for q [B, H, Tq, D] against
// k, v [B, H, Tk, D] with Tq <= Tk. Query row i sits at absolute position
// Tk-Tq+i. Returns heads merged to [B, Tq, H*D] and the weights [B, H, Tq, Tk].
func (a *CausalSelfAttention) attend(q, k, v *tensor.Tensor, rs *runState) (*tensor.Tensor, *tensor.Tensor) {
	B, H, Tq, D := q.Shape[0], q.Shape[1], q.Shape[2], q.Shape[3]
	Tk := k.Shape[2]
	offset := Tk - Tq
	scale := float32(1.0 / math.Sqrt(float64(D)))
	maskCols := a.mask.Shape[1]

	att := tensor.NewTensor(B, H, Tq, Tk)
	tensor.ParallelFor(B*H, 0, func(bh int) {
		qh := q.Data[bh*Tq*D : (bh+1)*Tq*D]
		kh := k.Data[bh*Tk*D : (bh+1)*Tk*D]
		for i := 0; i < Tq; i++ {
			qi := qh[i*D : (i+1)*D]
			maskRow := a.mask.Data[(offset+i)*maskCols:]
			row := att.Data[(bh*Tq+i)*Tk : (bh*Tq+i+1)*Tk]
			for j := 0; j < Tk; j++ {
				kj := kh[j*D : (j+1)*D]
				var s float32
				for d := range qi {
					s += qi[d] * kj[d]
				}
				row[j] = s*scale + maskRow[j]
			}
			tensor.SoftmaxRow(row, row)
		}
	})

	// Sequential so the random stream is consumed in a fixed order
	dropout(att.Data, a.cfg.DropoutProb, rs)

	C := H * D
	y := tensor.NewTensor(B, Tq, C)
	tensor.ParallelFor(B*H, 0, func(bh int) {
		b, h := bh/H, bh%H
		vh := v.Data[bh*Tk*D : (bh+1)*Tk*D]
		for i := 0; i < Tq; i++ {
			row := att.Data[(bh*Tq+i)*Tk : (bh*Tq+i+1)*Tk]
			out := y.Data[(b*Tq+i)*C+h*D : (b*Tq+i)*C+(h+1)*D]
			for j, w := range row {
				if w == 0 {
					continue
				}
				vj := vh[j*D : (j+1)*D]
				for d := range out {
					out[d] += w * vj[d]
				}
			}
		}
	})
	return y, att
}

// splitHeads turns a fused [B, T, 3C] projection into q, k, v of shape [B, H, T, C/H]
func splitHeads(qkv *tensor.Tensor, H int) (*tensor.Tensor, *tensor.Tensor, *tensor.Tensor) {
	B, T := qkv.Shape[0], qkv.Shape[1]
	C := qkv.Shape[2] / 3
	D := C / H

	q := tensor.NewTensor(B, H, T, D)
	k := tensor.NewTensor(B, H, T, D)
	v := tensor.NewTensor(B, H, T, D)
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			src := qkv.Data[(b*T+t)*3*C:]
			for h := 0; h < H; h++ {
				dst := ((b*H+h)*T + t) * D
				copy(q.Data[dst:dst+D], src[h*D:(h+1)*D])
				copy(k.Data[dst:dst+D], src[C+h*D:C+(h+1)*D])
				copy(v.Data[dst:dst+D], src[2*C+h*D:2*C+(h+1)*D])
			}
		}
	}
	return q, k, v
}
