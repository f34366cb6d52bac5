// Package tokenizer converts between text and the token ids the model consumes.
package tokenizer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Tokenizer converts between text and token ids
type Tokenizer interface {
	// Encode converts text to token IDs
	Encode(text string) ([]int, error)

	// Decode converts token IDs to text
	Decode(tokenIDs []int) (string, error)

	// EOSTokenID returns the end-of-text token ID, or -1 if there is none
	EOSTokenID() int

	// VocabSize is one more than the largest token ID
	VocabSize() int
}

// ErrUnknownToken is returned when text or an id has no mapping
var ErrUnknownToken = errors.New("unknown token")

// Loader opens a tokenizer from a file or directory
type Loader func(path string) (Tokenizer, error)

var (
	loadersMu sync.RWMutex
	loaders   = map[string]Loader{
		"bpe":     func(path string) (Tokenizer, error) { return NewBPE(path) },
		"char":    func(path string) (Tokenizer, error) { return LoadChar(path) },
		"sugarme": func(path string) (Tokenizer, error) { return NewPretrained(path) },
	}
)

// Register makes a loader available to Load under name
func Register(name string, l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[name] = l
}

// Kinds lists the registered loader names
func Kinds() []string {
	loadersMu.RLock()
	defer loadersMu.RUnlock()
	kinds := make([]string, 0, len(loaders))
	for k := range loaders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Load opens path with the loader registered as kind
func Load(kind, path string) (Tokenizer, error) {
	loadersMu.RLock()
	l, ok := loaders[kind]
	loadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tokenizer kind %q (available: %v)", kind, Kinds())
	}
	return l(path)
}
