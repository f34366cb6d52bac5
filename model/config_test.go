package model

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tinyConfig() ModelConfig {
	return ModelConfig{
		BlockSize: 8,
		VocabSize: 10,
		NumLayers: 1,
		NumHeads:  1,
		EmbedDim:  4,
		UseBias:   true,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ModelConfig)
		ok     bool
	}{
		{"tiny", func(c *ModelConfig) {}, true},
		{"heads divide embedding", func(c *ModelConfig) { c.EmbedDim, c.NumHeads = 12, 3 }, true},
		{"heads do not divide embedding", func(c *ModelConfig) { c.EmbedDim, c.NumHeads = 10, 3 }, false},
		{"zero block size", func(c *ModelConfig) { c.BlockSize = 0 }, false},
		{"negative vocab", func(c *ModelConfig) { c.VocabSize = -1 }, false},
		{"zero layers", func(c *ModelConfig) { c.NumLayers = 0 }, false},
		{"dropout one", func(c *ModelConfig) { c.DropoutProb = 1 }, false},
		{"dropout negative", func(c *ModelConfig) { c.DropoutProb = -0.1 }, false},
		{"dropout half", func(c *ModelConfig) { c.DropoutProb = 0.5 }, true},
		{"dropout NaN", func(c *ModelConfig) { c.DropoutProb = math.NaN() }, false},
	}

	for _, tt := range tests {
		cfg := tinyConfig()
		tt.modify(&cfg)
		err := cfg.Validate()
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrConfigMismatch) {
			t.Errorf("%s: expected ErrConfigMismatch, got %v", tt.name, err)
		}
	}
}

func TestNewGPTRejectsIndivisibleHeads(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumHeads = 3
	if _, err := NewGPT(cfg); !errors.Is(err, ErrConfigMismatch) {
		t.Errorf("Expected ErrConfigMismatch, got %v", err)
	}
}

func TestDefaultConfigIsGPT2Small(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.HeadDim() != 64 {
		t.Errorf("Expected head dim 64, got %d", cfg.HeadDim())
	}
}

func TestLoadConfigHuggingFace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	hf := `{
		"model_type": "gpt2",
		"n_ctx": 256,
		"n_positions": 256,
		"vocab_size": 65,
		"n_layer": 4,
		"n_head": 4,
		"n_embd": 128,
		"resid_pdrop": 0.1
	}`
	if err := os.WriteFile(path, []byte(hf), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := ModelConfig{
		BlockSize:   256,
		VocabSize:   65,
		NumLayers:   4,
		NumHeads:    4,
		EmbedDim:    128,
		DropoutProb: 0.1,
		UseBias:     true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := tinyConfig()
	cfg.UseBias = false
	cfg.DropoutProb = 0.2

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"n_embd": 10, "n_head": 3}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrConfigMismatch) {
		t.Errorf("Expected ErrConfigMismatch, got %v", err)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Errorf("Expected error for missing file")
	}
}
