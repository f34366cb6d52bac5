// Package model implements a decoder-only GPT: embeddings, a stack of pre-norm
// causal self-attention blocks, the language-model head and autoregressive
// sampling on top of it.
package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelConfig holds the hyperparameters every component is built from.
// It is passed by value and never mutated after construction.
type ModelConfig struct {
	BlockSize   int     `json:"block_size"`
	VocabSize   int     `json:"vocab_size"`
	NumLayers   int     `json:"n_layer"`
	NumHeads    int     `json:"n_head"`
	EmbedDim    int     `json:"n_embd"`
	DropoutProb float64 `json:"dropout"`
	UseBias     bool    `json:"bias"`
}

// DefaultConfig returns the GPT-2 124M shape, with the vocabulary padded to a
// multiple of 64.
func DefaultConfig() ModelConfig {
	return ModelConfig{
		BlockSize:   1024,
		VocabSize:   50304,
		NumLayers:   12,
		NumHeads:    12,
		EmbedDim:    768,
		DropoutProb: 0.0,
		UseBias:     true,
	}
}

// Validate checks that every dimension is positive, that heads evenly divide
// the embedding and that dropout is a probability in [0, 1).
func (c ModelConfig) Validate() error {
	dims := []struct {
		name string
		v    int
	}{
		{"block_size", c.BlockSize},
		{"vocab_size", c.VocabSize},
		{"n_layer", c.NumLayers},
		{"n_head", c.NumHeads},
		{"n_embd", c.EmbedDim},
	}
	for _, d := range dims {
		if d.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrConfigMismatch, d.name, d.v)
		}
	}
	if c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("%w: n_embd %d not divisible by n_head %d", ErrConfigMismatch, c.EmbedDim, c.NumHeads)
	}
	if !(c.DropoutProb >= 0 && c.DropoutProb < 1) {
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrConfigMismatch, c.DropoutProb)
	}
	return nil
}

// HeadDim is the per-head width EmbedDim / NumHeads
func (c ModelConfig) HeadDim() int {
	return c.EmbedDim / c.NumHeads
}

// LoadConfig reads a config.json written by SaveConfig or by HuggingFace GPT-2.
// Missing fields keep their DefaultConfig values.
func LoadConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ModelConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	config := DefaultConfig()
	intField := func(dst *int, keys ...string) {
		for _, k := range keys {
			if v, ok := raw[k].(float64); ok {
				*dst = int(v)
			}
		}
	}

	// HF GPT-2 uses n_positions (n_ctx in older files) for the context length
	intField(&config.BlockSize, "n_ctx", "n_positions", "block_size")
	intField(&config.VocabSize, "vocab_size")
	intField(&config.NumLayers, "n_layer", "num_hidden_layers")
	intField(&config.NumHeads, "n_head", "num_attention_heads")
	intField(&config.EmbedDim, "n_embd", "hidden_size")

	if v, ok := raw["resid_pdrop"].(float64); ok {
		config.DropoutProb = v
	}
	if v, ok := raw["dropout"].(float64); ok {
		config.DropoutProb = v
	}
	if v, ok := raw["bias"].(bool); ok {
		config.UseBias = v
	}

	if err := config.Validate(); err != nil {
		return ModelConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// SaveConfig writes the config as JSON in the layout LoadConfig reads
func SaveConfig(path string, c ModelConfig) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
