package tokenizer

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Char maps each distinct character of a training corpus to its own id, in
// sorted order. It has no end-of-text token.
type Char struct {
	stoi map[rune]int
	itos []rune
}

// NewChar builds the vocabulary from the characters in corpus
func NewChar(corpus string) *Char {
	seen := map[rune]bool{}
	for _, r := range corpus {
		seen[r] = true
	}
	t := &Char{stoi: make(map[rune]int, len(seen))}
	for r := range seen {
		t.itos = append(t.itos, r)
	}
	sort.Slice(t.itos, func(i, j int) bool { return t.itos[i] < t.itos[j] })
	for i, r := range t.itos {
		t.stoi[r] = i
	}
	return t
}

// LoadChar builds the vocabulary from a corpus file
func LoadChar(path string) (*Char, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("corpus %s is empty", path)
	}
	return NewChar(string(data)), nil
}

// Encode implements Tokenizer
func (t *Char) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		id, ok := t.stoi[r]
		if !ok {
			return nil, fmt.Errorf("%w: character %q", ErrUnknownToken, r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode implements Tokenizer
func (t *Char) Decode(tokenIDs []int) (string, error) {
	var sb strings.Builder
	for _, id := range tokenIDs {
		if id < 0 || id >= len(t.itos) {
			return "", fmt.Errorf("%w: id %d", ErrUnknownToken, id)
		}
		sb.WriteRune(t.itos[id])
	}
	return sb.String(), nil
}

// EOSTokenID implements Tokenizer
func (t *Char) EOSTokenID() int { return -1 }

// VocabSize implements Tokenizer
func (t *Char) VocabSize() int { return len(t.itos) }
