package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/schollz/progressbar/v3"

	"nano-gpt-go/model"
	"nano-gpt-go/tokenizer"
)

// Output represents the output of a generation request
type Output struct {
	Text         string
	TokenIDs     []int
	FinishReason FinishReason
}

// Engine is the main generation loop
type Engine struct {
	config      *Config
	modelRunner ModelRunner
	tokenizer   tokenizer.Tokenizer
}

// NewEngine creates a new engine. tok may be nil when only GenerateTokens
// is used.
func NewEngine(config *Config, modelRunner ModelRunner, tok tokenizer.Tokenizer) *Engine {
	return &Engine{
		config:      config,
		modelRunner: modelRunner,
		tokenizer:   tok,
	}
}

// Close cleans up resources
func (e *Engine) Close() error {
	return e.modelRunner.Close()
}

// Generate encodes prompts, samples a completion for each and decodes it.
// Outputs are returned in prompt order.
func (e *Engine) Generate(ctx context.Context, prompts []string) ([]Output, error) {
	if e.tokenizer == nil {
		return nil, fmt.Errorf("engine has no tokenizer")
	}
	encoded := make([][]int, len(prompts))
	for i, p := range prompts {
		ids, err := e.tokenizer.Encode(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode prompt %d: %w", i, err)
		}
		encoded[i] = ids
	}
	return e.GenerateTokens(ctx, encoded)
}

// GenerateTokens samples a completion for each tokenized prompt. Prompt i
// draws from its own PCG stream seeded with (Seed, i), so results do not
// depend on MaxNumSeqs. If ctx is cancelled between steps the outputs
// produced so far are returned together with ctx.Err().
func (e *Engine) GenerateTokens(ctx context.Context, prompts [][]int) ([]Output, error) {
	seqs := make([]*Sequence, len(prompts))
	for i, p := range prompts {
		if len(p) == 0 {
			return nil, fmt.Errorf("%w: prompt %d is empty", model.ErrConfigMismatch, i)
		}
		rng := rand.New(rand.NewPCG(e.config.Seed, uint64(i)))
		seqs[i] = NewSequence(i, p, e.config.MaxTokens, e.config.Sampling, rng)
	}

	scheduler := NewScheduler(e.config)
	for _, seq := range seqs {
		scheduler.Add(seq)
	}

	var bar *progressbar.ProgressBar
	if e.config.ShowProgress {
		bar = progressbar.NewOptions(len(seqs)*e.config.MaxTokens,
			progressbar.OptionSetWriter(e.config.ProgressWriter),
			progressbar.OptionSetDescription("Generating"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	logger := e.config.Logger
	step := 0
	for !scheduler.IsFinished() {
		if err := ctx.Err(); err != nil {
			e.release(seqs)
			return e.partial(seqs), err
		}

		batch := scheduler.Schedule()
		start := time.Now()
		tokenIDs, err := e.modelRunner.Run(ctx, batch)
		if err == nil && len(tokenIDs) != len(batch) {
			err = fmt.Errorf("runner returned %d tokens for %d sequences", len(tokenIDs), len(batch))
		}
		if err != nil {
			e.release(seqs)
			return e.partial(seqs), fmt.Errorf("model inference failed: %w", err)
		}
		elapsed := time.Since(start).Seconds()

		finished := scheduler.Postprocess(batch, tokenIDs)
		for _, seq := range finished {
			e.modelRunner.Release(seq)
		}
		step++
		logger.Printf("step %d: %d sequences, %d finished, %.1fms", step, len(batch), len(finished), elapsed*1000)

		if bar != nil {
			// Sequences that stop early still count their unused budget
			advance := len(batch)
			for _, seq := range finished {
				advance += seq.MaxTokens - seq.NumCompletionTokens()
			}
			bar.Add(advance)
			if elapsed > 0 {
				bar.Describe(fmt.Sprintf("Generating [%dtok/s]", int(float64(len(batch))/elapsed)))
			}
		}
	}

	if bar != nil {
		bar.Finish()
	}

	outputs := make([]Output, len(seqs))
	for i, seq := range seqs {
		out, err := e.output(seq)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}

func (e *Engine) output(seq *Sequence) (Output, error) {
	out := Output{
		TokenIDs:     append([]int(nil), seq.CompletionTokenIDs()...),
		FinishReason: seq.FinishReason,
	}
	if e.tokenizer != nil {
		text, err := e.tokenizer.Decode(out.TokenIDs)
		if err != nil {
			return Output{}, fmt.Errorf("failed to decode tokens: %w", err)
		}
		out.Text = text
	}
	return out, nil
}

// partial returns whatever every sequence has so far. Undecodable text is
// left empty.
func (e *Engine) partial(seqs []*Sequence) []Output {
	outputs := make([]Output, len(seqs))
	for i, seq := range seqs {
		out, err := e.output(seq)
		if err != nil {
			out = Output{
				TokenIDs:     append([]int(nil), seq.CompletionTokenIDs()...),
				FinishReason: seq.FinishReason,
			}
		}
		outputs[i] = out
	}
	return outputs
}

func (e *Engine) release(seqs []*Sequence) {
	for _, seq := range seqs {
		e.modelRunner.Release(seq)
	}
}
