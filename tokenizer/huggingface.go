//go:build tokenizers
// +build tokenizers

package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// HuggingFace wraps the Rust tokenizers library through cgo. Building it
// requires libtokenizers.a on the linker path.
type HuggingFace struct {
	tk    *tokenizers.Tokenizer
	eosID int
}

func init() {
	Register("hf", func(path string) (Tokenizer, error) { return NewHuggingFace(path) })
}

// NewHuggingFace loads a tokenizer.json file. Call Close when done.
func NewHuggingFace(path string) (*HuggingFace, error) {
	t, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	h := &HuggingFace{tk: t, eosID: -1}
	for _, name := range eosCandidates {
		ids, _ := t.Encode(name, false)
		if len(ids) == 1 {
			h.eosID = int(ids[0])
			break
		}
	}
	return h, nil
}

// Encode implements Tokenizer. Special tokens are not added.
func (h *HuggingFace) Encode(text string) ([]int, error) {
	raw, _ := h.tk.Encode(text, false)
	ids := make([]int, len(raw))
	for i, v := range raw {
		ids[i] = int(v)
	}
	return ids, nil
}

// Decode implements Tokenizer
func (h *HuggingFace) Decode(tokenIDs []int) (string, error) {
	raw := make([]uint32, len(tokenIDs))
	for i, id := range tokenIDs {
		if id < 0 {
			return "", fmt.Errorf("%w: id %d", ErrUnknownToken, id)
		}
		raw[i] = uint32(id)
	}
	return h.tk.Decode(raw, false), nil
}

// EOSTokenID implements Tokenizer
func (h *HuggingFace) EOSTokenID() int { return h.eosID }

// VocabSize implements Tokenizer
func (h *HuggingFace) VocabSize() int { return int(h.tk.VocabSize()) }

// Close releases the native tokenizer
func (h *HuggingFace) Close() error {
	return h.tk.Close()
}
