// Package inference defines the streaming speech model capability that
// consumes captured periods, and the pieces that sit between it and a
// capture session.
package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotLoaded is returned by Step before a successful Load.
	ErrNotLoaded = errors.New("inference: model not loaded")
	// ErrRuntimeUnavailable is returned by Load when no model runtime is
	// compiled into this build.
	ErrRuntimeUnavailable = errors.New("inference: model runtime not available in this build")
	// ErrUnknownProvider is returned by ParseProvider.
	ErrUnknownProvider = errors.New("inference: unknown execution provider")
)

// Engine runs a streaming transducer one chunk at a time. Step must not
// retain chunk after returning.
type Engine interface {
	Load(paths ModelPaths, providers []Provider) error
	Step(chunk []float32) ([]int32, error)
	// Reset clears recurrent state between utterances.
	Reset()
	Close() error
}

// ModelPaths locates the three networks of an RNN-T model.
type ModelPaths struct {
	Encoder   string `mapstructure:"encoder" yaml:"encoder"`
	Predictor string `mapstructure:"predictor" yaml:"predictor"`
	Joint     string `mapstructure:"joint" yaml:"joint"`
}

// IsZero reports whether no path is set.
func (p ModelPaths) IsZero() bool {
	return p.Encoder == "" && p.Predictor == "" && p.Joint == ""
}

// Resolve makes relative paths relative to dir.
func (p ModelPaths) Resolve(dir string) ModelPaths {
	resolve := func(path string) string {
		if path == "" || filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(dir, path)
	}
	return ModelPaths{
		Encoder:   resolve(p.Encoder),
		Predictor: resolve(p.Predictor),
		Joint:     resolve(p.Joint),
	}
}

// Check verifies that every path is set and names a regular file.
func (p ModelPaths) Check() error {
	var errs []error
	for _, f := range []struct{ name, path string }{
		{"encoder", p.Encoder},
		{"predictor", p.Predictor},
		{"joint", p.Joint},
	} {
		if f.path == "" {
			errs = append(errs, fmt.Errorf("%s model path is empty", f.name))
			continue
		}
		info, err := os.Stat(f.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s model: %w", f.name, err))
			continue
		}
		if info.IsDir() {
			errs = append(errs, fmt.Errorf("%s model: %s is a directory", f.name, f.path))
		}
	}
	return errors.Join(errs...)
}

// Provider is an execution provider, in preference order when listed.
type Provider string

const (
	ProviderTensorRT Provider = "TensorRT"
	ProviderCUDA     Provider = "CUDA"
	ProviderCPU      Provider = "CPU"
)

var providerAliases = map[string]Provider{
	"TensorRT": ProviderTensorRT,
	"Tensorrt": ProviderTensorRT,
	"TRT":      ProviderTensorRT,
	"CUDA":     ProviderCUDA,
	"Cuda":     ProviderCUDA,
	"CPU":      ProviderCPU,
	"Cpu":      ProviderCPU,
}

// ParseProvider accepts the canonical names and their spelling variants.
func ParseProvider(name string) (Provider, error) {
	if p, ok := providerAliases[strings.TrimSpace(name)]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q (valid: TensorRT, CUDA, CPU)", ErrUnknownProvider, name)
}

// ParseProviders parses a preference list, dropping duplicates while
// keeping first-seen order.
func ParseProviders(names []string) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	seen := make(map[Provider]bool, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, err := ParseProvider(name)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

type nullEngine struct{}

// NewNull returns an Engine for builds without a model runtime. Load always
// fails and Step never produces tokens.
func NewNull() Engine {
	return nullEngine{}
}

func (nullEngine) Load(ModelPaths, []Provider) error { return ErrRuntimeUnavailable }
func (nullEngine) Step([]float32) ([]int32, error)  { return nil, ErrNotLoaded }
func (nullEngine) Reset()                           {}
func (nullEngine) Close() error                     { return nil }
