// Package engine turns text prompts into sampled completions. It schedules
// sequences onto a ModelRunner, tracks their progress and decodes the results
// with a tokenizer.
package engine

import (
	"fmt"
	"io"
	"log"
	"os"

	"nano-gpt-go/model"
)

// Config holds the configuration for the engine
type Config struct {
	MaxTokens      int
	MaxNumSeqs     int
	EOS            int
	IgnoreEOS      bool
	Seed           uint64
	Sampling       model.SamplingParams
	ShowProgress   bool
	ProgressWriter io.Writer
	Logger         *log.Logger
}

// ConfigOption is a functional option for Config
type ConfigOption func(*Config)

// NewConfig creates a new Config with default values
func NewConfig(opts ...ConfigOption) (*Config, error) {
	c := &Config{
		MaxTokens:      64,
		MaxNumSeqs:     16,
		EOS:            -1,
		Seed:           model.DefaultSeed,
		Sampling:       model.SamplingParams{Temperature: 1.0},
		ProgressWriter: os.Stderr,
		Logger:         log.New(io.Discard, "", 0),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must be >= 0, got %d", model.ErrInvalidSamplingParameter, c.MaxTokens)
	}
	if c.MaxNumSeqs < 1 {
		return fmt.Errorf("max_num_seqs must be >= 1, got %d", c.MaxNumSeqs)
	}
	if err := c.Sampling.Validate(); err != nil {
		return err
	}
	if c.Logger == nil {
		return fmt.Errorf("logger must not be nil")
	}
	return nil
}

// WithMaxTokens sets how many tokens are generated per prompt
func WithMaxTokens(n int) ConfigOption {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithMaxNumSeqs sets how many sequences run in one step
func WithMaxNumSeqs(n int) ConfigOption {
	return func(c *Config) {
		c.MaxNumSeqs = n
	}
}

// WithEOS sets the token that ends a sequence early. -1 disables it.
func WithEOS(id int) ConfigOption {
	return func(c *Config) {
		c.EOS = id
	}
}

// WithIgnoreEOS keeps generating past the EOS token
func WithIgnoreEOS(b bool) ConfigOption {
	return func(c *Config) {
		c.IgnoreEOS = b
	}
}

// WithSeed sets the base seed. Prompt i draws from PCG(seed, i).
func WithSeed(seed uint64) ConfigOption {
	return func(c *Config) {
		c.Seed = seed
	}
}

// WithSampling sets the temperature and top-k used for every prompt
func WithSampling(sp model.SamplingParams) ConfigOption {
	return func(c *Config) {
		c.Sampling = sp
	}
}

// WithProgress shows a progress bar on w while generating
func WithProgress(w io.Writer) ConfigOption {
	return func(c *Config) {
		c.ShowProgress = true
		c.ProgressWriter = w
	}
}

// WithLogger sets the logger used for per-step diagnostics
func WithLogger(l *log.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}
