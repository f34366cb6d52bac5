package tokenizer

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Pretrained wraps a HuggingFace tokenizer.json through the pure-Go
// sugarme/tokenizer implementation.
type Pretrained struct {
	tk    *tk.Tokenizer
	eosID int
}

// eosCandidates are tried in order to find the end-of-text token
var eosCandidates = []string{eosToken, "</s>", "<eos>", "<|end_of_text|>"}

// NewPretrained loads a tokenizer.json file
func NewPretrained(path string) (*Pretrained, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	p := &Pretrained{tk: t, eosID: -1}
	for _, name := range eosCandidates {
		if id, ok := t.TokenToId(name); ok {
			p.eosID = id
			break
		}
	}
	return p, nil
}

// Encode implements Tokenizer. Special tokens are not added.
func (p *Pretrained) Encode(text string) ([]int, error) {
	enc, err := p.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	ids := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		ids[i] = int(v)
	}
	return ids, nil
}

// Decode implements Tokenizer
func (p *Pretrained) Decode(tokenIDs []int) (string, error) {
	return p.tk.Decode(tokenIDs, false), nil
}

// EOSTokenID implements Tokenizer
func (p *Pretrained) EOSTokenID() int { return p.eosID }

// VocabSize implements Tokenizer
func (p *Pretrained) VocabSize() int { return p.tk.GetVocabSize(true) }
