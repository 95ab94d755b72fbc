package encoder

import (
	"context"
	"fmt"
)

// HiddenStates holds the per-layer token outputs of one forward pass. Each
// layer is a flat [Batch*SeqLen*Hidden] float32 slice in row-major order.
type HiddenStates struct {
	Layers [][]float32
	Batch  int
	SeqLen int
	Hidden int
}

// Layer returns the hidden states of the given layer. Negative indices count
// from the end, so -1 is the last available layer.
func (h *HiddenStates) Layer(index int) ([]float32, error) {
	if index < 0 {
		index += len(h.Layers)
	}
	if index < 0 || index >= len(h.Layers) {
		return nil, fmt.Errorf("%w: index %d with %d layers", ErrInvalidLayer, index, len(h.Layers))
	}
	return h.Layers[index], nil
}

// TransformerBackend defines a pluggable backend for transformer inference.
// Implementations may use ONNX Runtime, TensorRT, or other engines.
type TransformerBackend interface {
	// Forward runs a single inference pass over a tokenized batch and
	// returns the hidden states of every layer the model exposes. All
	// encodings in the batch must share one sequence length.
	Forward(ctx context.Context, batch []*Encoding) (*HiddenStates, error)
	// IsReady returns whether the backend is initialized and ready.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}

// NewTransformerBackend creates a backend if supported by the current build.
// The default (no build tags) returns nil to avoid CGO dependencies.
// Implementations live in build-tagged files, e.g. backend_onnx.go.
