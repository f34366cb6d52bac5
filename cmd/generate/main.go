package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"nano-gpt-go/checkpoint"
	"nano-gpt-go/engine"
	"nano-gpt-go/model"
	"nano-gpt-go/runner"
	"nano-gpt-go/tensor"
	"nano-gpt-go/tokenizer"
)

func main() {
	ckptDir := flag.String("checkpoint", "", "Checkpoint directory (config.json + model.safetensors); empty for random init")
	tokKind := flag.String("tokenizer", "bpe", "Tokenizer kind: "+strings.Join(tokenizer.Kinds(), ", "))
	tokPath := flag.String("tokenizer-path", "", "Tokenizer file or directory (defaults to the checkpoint directory)")
	onnxPath := flag.String("onnx", "", "Run an exported ONNX graph instead of the native model")
	onnxLib := flag.String("onnx-lib", "", "Path to the onnxruntime shared library")
	prompt := flag.String("prompt", "\n", "Prompt text")
	numSamples := flag.Int("num-samples", 1, "Number of samples to draw")
	maxTokens := flag.Int("max-tokens", 100, "Maximum tokens to generate")
	temperature := flag.Float64("temp", 0.8, "Sampling temperature (> 0)")
	topK := flag.Int("top-k", 200, "Keep only the k most likely tokens (0 disables)")
	seed := flag.Uint64("seed", model.DefaultSeed, "Random seed")
	backend := flag.String("backend", "native", "Matmul backend: native or gonum")
	noCache := flag.Bool("no-cache", false, "Recompute every position on every step")
	blockSize := flag.Int("block-size", 64, "Context length for random init")
	nLayer := flag.Int("n-layer", 2, "Layers for random init")
	nHead := flag.Int("n-head", 2, "Heads for random init")
	nEmbd := flag.Int("n-embd", 32, "Embedding width for random init")
	progress := flag.Bool("progress", true, "Show a progress bar")
	verbose := flag.Bool("v", false, "Log every generation step")
	flag.Parse()

	if *tokPath == "" {
		*tokPath = *ckptDir
	}
	if *tokPath == "" {
		log.Fatalf("Either -checkpoint or -tokenizer-path is required")
	}

	tok, err := tokenizer.Load(*tokKind, *tokPath)
	if err != nil {
		log.Fatalf("Failed to load tokenizer: %v", err)
	}
	if c, ok := tok.(io.Closer); ok {
		defer c.Close()
	}
	fmt.Printf("✓ Loaded %s tokenizer (%d tokens)\n", *tokKind, tok.VocabSize())

	be, err := tensor.BackendByName(*backend)
	if err != nil {
		log.Fatalf("%v", err)
	}

	var g *model.GPT
	if *ckptDir != "" {
		g, err = checkpoint.LoadDir(*ckptDir, model.WithBackend(be), model.WithSeed(*seed))
		if err != nil {
			log.Fatalf("Failed to load checkpoint: %v", err)
		}
		fmt.Printf("✓ Loaded checkpoint %s (%.2fM parameters)\n", *ckptDir, float64(g.NumParams(true))/1e6)
	} else {
		cfg := model.ModelConfig{
			BlockSize: *blockSize,
			VocabSize: tok.VocabSize(),
			NumLayers: *nLayer,
			NumHeads:  *nHead,
			EmbedDim:  *nEmbd,
			UseBias:   true,
		}
		g, err = model.NewGPT(cfg, model.WithBackend(be), model.WithSeed(*seed))
		if err != nil {
			log.Fatalf("Failed to build model: %v", err)
		}
		fmt.Printf("✓ Initialized random model (%.2fM parameters)\n", float64(g.NumParams(true))/1e6)
	}
	if g.VocabSize() < tok.VocabSize() {
		log.Fatalf("Tokenizer has %d tokens but the model only %d", tok.VocabSize(), g.VocabSize())
	}

	var mr engine.ModelRunner
	if *onnxPath != "" {
		mr, err = runner.NewONNX(runner.ONNXConfig{
			ModelPath:   *onnxPath,
			LibraryPath: *onnxLib,
			VocabSize:   g.VocabSize(),
			BlockSize:   g.BlockSize(),
		})
		if err != nil {
			log.Fatalf("Failed to start ONNX runtime: %v", err)
		}
		fmt.Printf("✓ Loaded ONNX graph %s\n", *onnxPath)
	} else {
		var genOpts []model.GeneratorOption
		if *noCache {
			genOpts = append(genOpts, model.WithoutKVCache())
		}
		mr = runner.NewNative(g, genOpts...)
	}

	sampling := model.SamplingParams{Temperature: *temperature, TopK: *topK}
	if sampling.TopK > g.VocabSize() {
		sampling.TopK = g.VocabSize()
	}
	opts := []engine.ConfigOption{
		engine.WithMaxTokens(*maxTokens),
		engine.WithSampling(sampling),
		engine.WithSeed(*seed),
		engine.WithEOS(tok.EOSTokenID()),
	}
	if *progress {
		opts = append(opts, engine.WithProgress(os.Stderr))
	}
	if *verbose {
		opts = append(opts, engine.WithLogger(log.New(os.Stderr, "[engine] ", log.Ltime)))
	}
	config, err := engine.NewConfig(opts...)
	if err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	e := engine.NewEngine(config, mr, tok)
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prompts := make([]string, *numSamples)
	for i := range prompts {
		prompts[i] = *prompt
	}
	outputs, err := e.Generate(ctx, prompts)
	if err != nil && outputs == nil {
		log.Fatalf("Generation failed: %v", err)
	}

	fmt.Println()
	for i, out := range outputs {
		fmt.Printf("%s%s\n", *prompt, out.Text)
		if i < len(outputs)-1 {
			fmt.Println("---------------")
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nStopped early: %v\n", err)
	}
}
