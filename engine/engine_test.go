package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"nano-gpt-go/model"
	"nano-gpt-go/tokenizer"
)

// randomRunner draws each token from the sequence's own stream
type randomRunner struct {
	vocab    int
	steps    int
	failAt   int
	onStep   func(step int)
	released map[int64]int
	closed   bool
}

func newRandomRunner(vocab int) *randomRunner {
	return &randomRunner{vocab: vocab, failAt: -1, released: map[int64]int{}}
}

func (r *randomRunner) Run(ctx context.Context, seqs []*Sequence) ([]int, error) {
	if r.steps == r.failAt {
		return nil, errors.New("boom")
	}
	out := make([]int, len(seqs))
	for i, seq := range seqs {
		out[i] = seq.Rand.IntN(r.vocab)
	}
	r.steps++
	if r.onStep != nil {
		r.onStep(r.steps)
	}
	return out, nil
}

func (r *randomRunner) Release(seq *Sequence) { r.released[seq.SeqID]++ }

func (r *randomRunner) Close() error {
	r.closed = true
	return nil
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []ConfigOption
	}{
		{"negative max tokens", []ConfigOption{WithMaxTokens(-1)}},
		{"no sequences", []ConfigOption{WithMaxNumSeqs(0)}},
		{"zero temperature", []ConfigOption{WithSampling(model.SamplingParams{Temperature: 0})}},
		{"negative top-k", []ConfigOption{WithSampling(model.SamplingParams{Temperature: 1, TopK: -1})}},
		{"nil logger", []ConfigOption{WithLogger(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConfig(tt.opts...); err == nil {
				t.Errorf("Expected error")
			}
		})
	}

	c, err := NewConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if c.Seed != model.DefaultSeed || c.EOS != -1 || c.Sampling.Temperature != 1 {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestGenerateDecodesInPromptOrder(t *testing.T) {
	tok := tokenizer.NewChar("abcdefgh")
	config, err := NewConfig(WithMaxTokens(4), WithMaxNumSeqs(1))
	if err != nil {
		t.Fatal(err)
	}
	runner := newRandomRunner(tok.VocabSize())
	e := NewEngine(config, runner, tok)

	outputs, err := e.Generate(context.Background(), []string{"ab", "cd", "e"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(outputs) != 3 {
		t.Fatalf("Expected 3 outputs, got %d", len(outputs))
	}
	for i, out := range outputs {
		if len(out.TokenIDs) != 4 || out.FinishReason != FinishLength {
			t.Errorf("output %d: %d tokens, reason %q", i, len(out.TokenIDs), out.FinishReason)
		}
		text, _ := tok.Decode(out.TokenIDs)
		if out.Text != text {
			t.Errorf("output %d: text %q, want %q", i, out.Text, text)
		}
	}
	if len(runner.released) != 3 {
		t.Errorf("Expected every sequence released, got %v", runner.released)
	}

	if err := e.Close(); err != nil || !runner.closed {
		t.Errorf("Close did not reach the runner")
	}
}

func TestGenerateIndependentOfBatching(t *testing.T) {
	prompts := [][]int{{1}, {2, 3}, {4}}
	run := func(maxSeqs int) []Output {
		config, err := NewConfig(WithMaxTokens(6), WithMaxNumSeqs(maxSeqs), WithSeed(7))
		if err != nil {
			t.Fatal(err)
		}
		out, err := NewEngine(config, newRandomRunner(50), nil).GenerateTokens(context.Background(), prompts)
		if err != nil {
			t.Fatal(err)
		}
		return out
	}
	if diff := cmp.Diff(run(1), run(3)); diff != "" {
		t.Errorf("outputs depend on MaxNumSeqs (-one +three):\n%s", diff)
	}
}

func TestGenerateStopsOnEOS(t *testing.T) {
	config, err := NewConfig(WithMaxTokens(10), WithEOS(0))
	if err != nil {
		t.Fatal(err)
	}
	// Vocabulary of one: the first draw is always the EOS token
	outputs, err := NewEngine(config, newRandomRunner(1), nil).GenerateTokens(context.Background(), [][]int{{5}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{0}, outputs[0].TokenIDs); diff != "" {
		t.Errorf("tokens (-want +got):\n%s", diff)
	}
	if outputs[0].FinishReason != FinishStop {
		t.Errorf("reason %q, want %q", outputs[0].FinishReason, FinishStop)
	}
}

func TestGenerateCancelledReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config, err := NewConfig(WithMaxTokens(10))
	if err != nil {
		t.Fatal(err)
	}
	runner := newRandomRunner(5)
	runner.onStep = func(step int) {
		if step == 3 {
			cancel()
		}
	}
	outputs, err := NewEngine(config, runner, nil).GenerateTokens(ctx, [][]int{{1}, {2}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	for i, out := range outputs {
		if len(out.TokenIDs) != 3 || out.FinishReason != FinishNone {
			t.Errorf("output %d: %d tokens, reason %q", i, len(out.TokenIDs), out.FinishReason)
		}
	}
	if len(runner.released) != 2 {
		t.Errorf("cancelled sequences should be released, got %v", runner.released)
	}
}

func TestGenerateRunnerError(t *testing.T) {
	config, err := NewConfig(WithMaxTokens(5))
	if err != nil {
		t.Fatal(err)
	}
	runner := newRandomRunner(5)
	runner.failAt = 2
	outputs, err := NewEngine(config, runner, nil).GenerateTokens(context.Background(), [][]int{{1}})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Expected wrapped runner error, got %v", err)
	}
	if len(outputs) != 1 || len(outputs[0].TokenIDs) != 2 {
		t.Errorf("Expected the two completed tokens, got %+v", outputs)
	}
}

func TestGenerateRejectsBadPrompts(t *testing.T) {
	config, err := NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(config, newRandomRunner(5), tokenizer.NewChar("ab"))

	if _, err := e.GenerateTokens(context.Background(), [][]int{{}}); !errors.Is(err, model.ErrConfigMismatch) {
		t.Errorf("empty prompt: got %v", err)
	}
	if _, err := e.Generate(context.Background(), []string{"z"}); !errors.Is(err, tokenizer.ErrUnknownToken) {
		t.Errorf("unknown character: got %v", err)
	}
	if _, err := NewEngine(config, newRandomRunner(5), nil).Generate(context.Background(), []string{"a"}); err == nil {
		t.Errorf("Generate without a tokenizer should fail")
	}
}

func TestGenerateProgressAndLogging(t *testing.T) {
	var progress, logs bytes.Buffer
	config, err := NewConfig(
		WithMaxTokens(3),
		WithProgress(&progress),
		WithLogger(log.New(&logs, "", 0)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(config, newRandomRunner(5), nil).GenerateTokens(context.Background(), [][]int{{1}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(progress.String(), "Generating") {
		t.Errorf("progress bar not written: %q", progress.String())
	}
	if strings.Count(logs.String(), "step ") != 3 {
		t.Errorf("Expected one log line per step, got:\n%s", logs.String())
	}
}

func TestGenerateNoPromptsNoSteps(t *testing.T) {
	config, err := NewConfig(WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatal(err)
	}
	runner := newRandomRunner(5)
	outputs, err := NewEngine(config, runner, nil).GenerateTokens(context.Background(), nil)
	if err != nil || len(outputs) != 0 || runner.steps != 0 {
		t.Errorf("outputs %v err %v steps %d", outputs, err, runner.steps)
	}
}
