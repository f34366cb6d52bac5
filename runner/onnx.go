package runner

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"nano-gpt-go/engine"
	"nano-gpt-go/model"
)

// ONNXConfig describes an exported graph with an int64 "input_ids" input of
// shape [1, T] and a float32 "logits" output of shape [1, T, VocabSize].
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string // onnxruntime shared library; empty uses the default lookup
	VocabSize   int
	BlockSize   int
	Threads     int
}

// ONNX implements engine.ModelRunner using ONNX Runtime. Every step runs the
// full window, since the graph keeps no cache.
type ONNX struct {
	config      ONNXConfig
	options     *ort.SessionOptions
	initialized bool
}

// NewONNX initializes the runtime and session options
func NewONNX(config ONNXConfig) (*ONNX, error) {
	if config.VocabSize <= 0 || config.BlockSize <= 0 {
		return nil, fmt.Errorf("%w: vocab size %d and block size %d must be positive",
			model.ErrConfigMismatch, config.VocabSize, config.BlockSize)
	}
	if config.Threads <= 0 {
		config.Threads = 4
	}

	if !ort.IsInitialized() {
		if config.LibraryPath != "" {
			ort.SetSharedLibraryPath(config.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := options.SetIntraOpNumThreads(config.Threads); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("failed to set threads: %w", err)
	}

	return &ONNX{config: config, options: options, initialized: true}, nil
}

// Run implements engine.ModelRunner
func (m *ONNX) Run(ctx context.Context, seqs []*engine.Sequence) ([]int, error) {
	if !m.initialized {
		return nil, fmt.Errorf("model runner not initialized")
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no sequences to process")
	}

	tokenIDs := make([]int, len(seqs))
	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := m.lastLogits(window(seq.TokenIDs, m.config.BlockSize))
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		tokenID, err := model.Sample(logits, seq.Params, seq.Rand)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		tokenIDs[i] = tokenID
	}
	return tokenIDs, nil
}

// lastLogits runs the graph on ids and returns the final position's logits
func (m *ONNX) lastLogits(ids []int) ([]float32, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", model.ErrConfigMismatch)
	}
	V := m.config.VocabSize
	inputData := make([]int64, len(ids))
	for j, id := range ids {
		if id < 0 || id >= V {
			return nil, fmt.Errorf("%w: token %d at position %d", model.ErrTokenOutOfRange, id, j)
		}
		inputData[j] = int64(id)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(ids)), int64(V)))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	session, err := ort.NewAdvancedSession(
		m.config.ModelPath,
		[]string{"input_ids"},
		[]string{"logits"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		m.options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	data := outputTensor.GetData()
	start := (len(ids) - 1) * V
	return append([]float32(nil), data[start:start+V]...), nil
}

// Release implements engine.ModelRunner. The ONNX runner holds no
// per-sequence state.
func (m *ONNX) Release(seq *engine.Sequence) {}

// Close implements engine.ModelRunner
func (m *ONNX) Close() error {
	if !m.initialized {
		return nil
	}
	m.initialized = false
	return m.options.Destroy()
}

// window returns the last n tokens of ids
func window(ids []int, n int) []int {
	if len(ids) > n {
		return ids[len(ids)-n:]
	}
	return ids
}
