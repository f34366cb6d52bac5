package model

import (
	"fmt"
	"math/rand/v2"
)

// Generator extends a batch of sequences one token at a time. The sequences
// returned by Tokens are valid after every completed Step.
type Generator struct {
	model  *GPT
	params SamplingParams
	rng    *rand.Rand
	tokens [][]int
	cache  *kvCache
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithoutKVCache recomputes every position on every step
func WithoutKVCache() GeneratorOption {
	return func(gen *Generator) {
		gen.cache = nil
	}
}

// NewGenerator validates the prompt and sampling parameters and prepares to
// sample continuations with rng. The prompt is copied.
func (g *GPT) NewGenerator(prompt [][]int, params SamplingParams, rng *rand.Rand, opts ...GeneratorOption) (*Generator, error) {
	if err := params.validate(g.cfg.VocabSize); err != nil {
		return nil, err
	}
	if _, _, err := g.checkBatch(prompt); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidSamplingParameter)
	}

	gen := &Generator{
		model:  g,
		params: params,
		rng:    rng,
		tokens: make([][]int, len(prompt)),
		cache:  newKVCache(g.cfg.NumLayers),
	}
	for b, row := range prompt {
		gen.tokens[b] = append([]int(nil), row...)
	}
	for _, opt := range opts {
		opt(gen)
	}
	return gen, nil
}

// Step samples one token for every row, appends it and returns the new tokens.
// Only the last BlockSize tokens of each row are fed to the model.
func (gen *Generator) Step() ([]int, error) {
	window := gen.tokens
	if n := len(gen.tokens[0]); n > gen.model.cfg.BlockSize {
		window = make([][]int, len(gen.tokens))
		for b, row := range gen.tokens {
			window[b] = row[n-gen.model.cfg.BlockSize:]
		}
	}

	cache := gen.cache
	if gen.model.training {
		// Cached keys were computed under different dropout masks
		cache = nil
	}
	logits, err := gen.model.lastLogits(window, cache)
	if err != nil {
		return nil, err
	}

	V := gen.model.cfg.VocabSize
	next := make([]int, len(gen.tokens))
	for b := range gen.tokens {
		tok, err := Sample(logits.Data[b*V:(b+1)*V], gen.params, gen.rng)
		if err != nil {
			return nil, err
		}
		next[b] = tok
	}
	for b, tok := range next {
		gen.tokens[b] = append(gen.tokens[b], tok)
	}
	return next, nil
}

// Tokens returns a copy of the sequences generated so far, prompt included
func (gen *Generator) Tokens() [][]int {
	out := make([][]int, len(gen.tokens))
	for b, row := range gen.tokens {
		out[b] = append([]int(nil), row...)
	}
	return out
}

// Close releases the key/value cache
func (gen *Generator) Close() {
	if gen.cache != nil {
		gen.cache.release()
		gen.cache = nil
	}
}

// Generate appends maxNewTokens sampled tokens to every row of prompt and
// returns the extended sequences. With maxNewTokens zero the prompt comes
// back unchanged. If a step fails, the sequences up to the last completed step
// are returned alongside the error.
func (g *GPT) Generate(prompt [][]int, maxNewTokens int, params SamplingParams, rng *rand.Rand) ([][]int, error) {
	if maxNewTokens < 0 {
		return nil, fmt.Errorf("%w: max new tokens must be non-negative, got %d", ErrInvalidSamplingParameter, maxNewTokens)
	}
	gen, err := g.NewGenerator(prompt, params, rng)
	if err != nil {
		return nil, err
	}
	defer gen.Close()

	for i := 0; i < maxNewTokens; i++ {
		if _, err := gen.Step(); err != nil {
			// Tokens from completed steps are still valid
			return gen.Tokens(), fmt.Errorf("generation step %d: %w", i, err)
		}
	}
	return gen.Tokens(), nil
}
