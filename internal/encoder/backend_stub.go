//go:build !onnx
// +build !onnx

package encoder

import (
	"go.uber.org/zap"
)

// Stub implementation used when the 'onnx' build tag is not set.
func NewTransformerBackend(logger *zap.Logger, cfg Config) TransformerBackend {
	return nil
}
