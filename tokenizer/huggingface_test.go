//go:build tokenizers
// +build tokenizers

package tokenizer

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHuggingFaceMatchesPretrained(t *testing.T) {
	path := os.Getenv("NANOGPT_TOKENIZER_JSON")
	if path == "" {
		t.Skip("NANOGPT_TOKENIZER_JSON not set")
	}

	hf, err := NewHuggingFace(path)
	if err != nil {
		t.Fatalf("NewHuggingFace: %v", err)
	}
	defer hf.Close()

	pure, err := NewPretrained(path)
	if err != nil {
		t.Fatalf("NewPretrained: %v", err)
	}

	text := "The quick brown fox"
	a, err := hf.Encode(text)
	if err != nil {
		t.Fatal(err)
	}
	b, err := pure.Encode(text)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b, a); diff != "" {
		t.Errorf("tokenizers disagree (-sugarme +hf):\n%s", diff)
	}

	decoded, err := hf.Decode(a)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != text {
		t.Errorf("Decode = %q, want %q", decoded, text)
	}
	if _, err := Load("hf", path); err != nil {
		t.Errorf("hf loader not registered: %v", err)
	}
}
