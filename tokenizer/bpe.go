package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// eosToken is GPT-2's end-of-text marker
const eosToken = "<|endoftext|>"

// BPE is GPT-2's byte-level byte-pair encoding, read from vocab.json and merges.txt
type BPE struct {
	encoder     map[string]int
	decoder     map[int]string
	bpeRanks    map[[2]string]int
	byteEncoder [256]rune
	byteDecoder map[rune]byte
	pattern     *regexp.Regexp
	eosID       int
	vocabSize   int
}

// NewBPE loads vocab.json and merges.txt from dir
func NewBPE(dir string) (*BPE, error) {
	t := &BPE{
		encoder:     make(map[string]int),
		decoder:     make(map[int]string),
		bpeRanks:    make(map[[2]string]int),
		byteEncoder: bytesToUnicode(),
		byteDecoder: make(map[rune]byte),
		eosID:       -1,
	}
	for b, r := range t.byteEncoder {
		t.byteDecoder[r] = byte(b)
	}

	data, err := os.ReadFile(filepath.Join(dir, "vocab.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	if err := json.Unmarshal(data, &t.encoder); err != nil {
		return nil, fmt.Errorf("failed to parse vocab: %w", err)
	}
	for token, id := range t.encoder {
		t.decoder[id] = token
		if id+1 > t.vocabSize {
			t.vocabSize = id + 1
		}
	}
	if id, ok := t.encoder[eosToken]; ok {
		t.eosID = id
	}

	if err := t.loadMerges(filepath.Join(dir, "merges.txt")); err != nil {
		return nil, fmt.Errorf("failed to load merges: %w", err)
	}

	// GPT-2 pre-tokenization pattern, without the lookahead RE2 lacks
	t.pattern = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	return t, nil
}

// bytesToUnicode maps every byte to a printable rune, as GPT-2 does
func bytesToUnicode() [256]rune {
	var enc [256]rune
	assigned := [256]bool{}
	for _, r := range [][2]int{{'!', '~'}, {'¡', '¬'}, {'®', 'ÿ'}} {
		for b := r[0]; b <= r[1]; b++ {
			enc[b] = rune(b)
			assigned[b] = true
		}
	}
	n := 0
	for b := 0; b < 256; b++ {
		if !assigned[b] {
			enc[b] = rune(256 + n)
			n++
		}
	}
	return enc
}

func (t *BPE) loadMerges(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	rank := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#version") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			return fmt.Errorf("malformed merge on line %d: %q", rank+1, line)
		}
		t.bpeRanks[[2]string{parts[0], parts[1]}] = rank
		rank++
	}
	return scanner.Err()
}

// Encode implements Tokenizer
func (t *BPE) Encode(text string) ([]int, error) {
	var ids []int
	for _, piece := range t.pattern.FindAllString(text, -1) {
		var sb strings.Builder
		for _, b := range []byte(piece) {
			sb.WriteRune(t.byteEncoder[b])
		}
		for _, sym := range t.bpe(sb.String()) {
			id, ok := t.encoder[sym]
			if !ok {
				return nil, fmt.Errorf("%w: %q not in vocabulary", ErrUnknownToken, sym)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// bpe merges the symbols of word, lowest rank first, until no ranked pair remains
func (t *BPE) bpe(word string) []string {
	var syms []string
	for _, r := range word {
		syms = append(syms, string(r))
	}

	for len(syms) > 1 {
		best := -1
		bestRank := math.MaxInt
		for i := 0; i+1 < len(syms); i++ {
			if rank, ok := t.bpeRanks[[2]string{syms[i], syms[i+1]}]; ok && rank < bestRank {
				best, bestRank = i, rank
			}
		}
		if best < 0 {
			break
		}

		first, second := syms[best], syms[best+1]
		merged := syms[:0:0]
		for i := 0; i < len(syms); {
			if i+1 < len(syms) && syms[i] == first && syms[i+1] == second {
				merged = append(merged, first+second)
				i += 2
			} else {
				merged = append(merged, syms[i])
				i++
			}
		}
		syms = merged
	}
	return syms
}

// Decode implements Tokenizer
func (t *BPE) Decode(tokenIDs []int) (string, error) {
	var sb strings.Builder
	for _, id := range tokenIDs {
		token, ok := t.decoder[id]
		if !ok {
			return "", fmt.Errorf("%w: id %d", ErrUnknownToken, id)
		}
		sb.WriteString(token)
	}

	var out []byte
	for _, r := range sb.String() {
		if b, ok := t.byteDecoder[r]; ok {
			out = append(out, b)
		}
	}
	return string(out), nil
}

// EOSTokenID implements Tokenizer
func (t *BPE) EOSTokenID() int { return t.eosID }

// VocabSize implements Tokenizer
func (t *BPE) VocabSize() int { return t.vocabSize }
