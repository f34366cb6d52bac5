package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"nano-gpt-go/checkpoint"
	"nano-gpt-go/model"
)

func main() {
	ckptDir := flag.String("checkpoint", "", "Checkpoint directory to inspect")
	showParams := flag.Bool("params", false, "List every parameter with its shape")
	crop := flag.Int("crop", 0, "Crop the context length to this many positions")
	out := flag.String("out", "", "Write the (cropped) checkpoint to this directory")
	flag.Parse()

	if *ckptDir == "" {
		log.Fatalf("-checkpoint is required")
	}

	g, err := checkpoint.LoadDir(*ckptDir)
	if err != nil {
		log.Fatalf("Failed to load checkpoint: %v", err)
	}
	fmt.Printf("✓ Loaded checkpoint %s\n", *ckptDir)

	if *crop > 0 {
		before := g.BlockSize()
		if err := g.CropContextLength(*crop); err != nil {
			log.Fatalf("Failed to crop: %v", err)
		}
		fmt.Printf("✓ Cropped context length %d -> %d\n", before, g.BlockSize())
	}

	printConfig(g)

	if *showParams {
		fmt.Println("\nParameters:")
		for _, p := range g.Parameters() {
			fmt.Printf("  %-32s %v\n", p.Name, p.Tensor.Shape)
		}
	}

	if *out != "" {
		if err := checkpoint.SaveDir(*out, g); err != nil {
			log.Fatalf("Failed to save checkpoint: %v", err)
		}
		fmt.Printf("✓ Saved checkpoint to %s\n", *out)
	}
}

func printConfig(g *model.GPT) {
	cfg := g.Config()
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("block_size:  %d\n", cfg.BlockSize)
	fmt.Printf("vocab_size:  %d\n", cfg.VocabSize)
	fmt.Printf("n_layer:     %d\n", cfg.NumLayers)
	fmt.Printf("n_head:      %d\n", cfg.NumHeads)
	fmt.Printf("n_embd:      %d\n", cfg.EmbedDim)
	fmt.Printf("dropout:     %g\n", cfg.DropoutProb)
	fmt.Printf("bias:        %v\n", cfg.UseBias)
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("parameters:           %.2fM\n", float64(g.NumParams(false))/1e6)
	fmt.Printf("non-embedding params: %.2fM\n", float64(g.NumParams(true))/1e6)
}
