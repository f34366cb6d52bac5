package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"nano-gpt-go/model"
	"nano-gpt-go/tensor"
)

const (
	// ConfigFile and WeightsFile are the names used inside a checkpoint directory
	ConfigFile  = "config.json"
	WeightsFile = "model.safetensors"
)

// Save writes every parameter of g to a safetensors file
func Save(path string, g *model.GPT) error {
	params := g.Parameters()
	entries := make([]Entry, len(params))
	for i, p := range params {
		entries[i] = Entry{Name: p.Name, Tensor: p.Tensor}
	}
	return Write(path, entries, map[string]string{"format": "pt"})
}

// Load copies parameters from a safetensors file into g. A file without
// lm_head.weight, like HuggingFace GPT-2, gets the head tied to the transposed
// token embedding. Any other missing parameter is an error. Every tensor is
// decoded and shape-checked before g is touched, so a failed Load leaves g
// unchanged.
func Load(path string, g *model.GPT) error {
	f, err := Open(path)
	if err != nil {
		return err
	}

	params := g.Parameters()
	staged := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		var t *tensor.Tensor
		switch {
		case f.Has(p.Name):
			if t, err = f.Tensor(p.Name); err != nil {
				return err
			}
		case p.Name == "lm_head.weight" && f.Has("wte.weight"):
			wte, err := f.Tensor("wte.weight")
			if err != nil {
				return err
			}
			t = tensor.Transpose(wte)
		default:
			return fmt.Errorf("%w: %s has no tensor %s", model.ErrConfigMismatch, path, p.Name)
		}
		if !tensor.SameShape(p.Tensor, t) {
			return fmt.Errorf("loading %s: %w: parameter %q has shape %v, file has %v",
				path, model.ErrConfigMismatch, p.Name, p.Tensor.Shape, t.Shape)
		}
		staged[i] = t
	}

	for i, p := range params {
		if err := g.SetParameter(p.Name, staged[i]); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// SaveDir writes config.json and model.safetensors into dir, creating it if needed
func SaveDir(dir string, g *model.GPT) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := model.SaveConfig(filepath.Join(dir, ConfigFile), g.Config()); err != nil {
		return err
	}
	return Save(filepath.Join(dir, WeightsFile), g)
}

// LoadDir builds a model from a directory holding config.json and
// model.safetensors. opts are passed to model.NewGPT.
func LoadDir(dir string, opts ...model.Option) (*model.GPT, error) {
	cfg, err := model.LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	g, err := model.NewGPT(cfg, opts...)
	if err != nil {
		return nil, err
	}

	weights := filepath.Join(dir, WeightsFile)
	if _, err := os.Stat(weights); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("model weights not found: %s", weights)
	}
	if err := Load(weights, g); err != nil {
		return nil, err
	}
	return g, nil
}
