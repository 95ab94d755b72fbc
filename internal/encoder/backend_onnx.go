//go:build onnx
// +build onnx

package encoder

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxBackend implements TransformerBackend using ONNX Runtime (via
// yalue/onnxruntime_go). The model is expected to expose one or more
// [batch, seq, hidden] hidden-state outputs; exports with a single
// last_hidden_state output work with layer index -1.
type OnnxBackend struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	logger      *zap.Logger
	ready       bool
	mu          sync.RWMutex
}

// NewTransformerBackend initializes the ONNX Runtime backend. Requires build
// tag 'onnx'.
func NewTransformerBackend(logger *zap.Logger, cfg Config) TransformerBackend {
	// Allow user to provide shared library path via environment variable.
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	// Inspect model IO to determine names
	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", cfg.ModelPath))
		return nil
	}

	// Prefer common transformer inputs order
	preferredInputs := []string{"input_ids", "attention_mask", "token_type_ids"}
	available := map[string]bool{}
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = true
	}
	var inputNames []string
	for _, name := range preferredInputs {
		if available[name] {
			inputNames = append(inputNames, name)
		}
	}
	// If no preferred names matched, fall back to model-declared order
	if len(inputNames) == 0 && len(inputsInfo) > 0 {
		// Keep stable order by name for determinism
		sorted := make([]string, 0, len(inputsInfo))
		for _, ii := range inputsInfo {
			sorted = append(sorted, ii.Name)
		}
		sort.Strings(sorted)
		inputNames = sorted
	}

	// Hidden-state outputs are the rank-3 tensors, in model-declared order.
	// Exports with output_hidden_states enabled declare one per layer;
	// otherwise last_hidden_state is the only one.
	var outputNames []string
	for _, oi := range outputsInfo {
		if len(oi.Dimensions) == 3 {
			outputNames = append(outputNames, oi.Name)
		}
	}
	if len(outputNames) == 0 {
		logger.Error("ONNX model exposes no hidden-state outputs", zap.String("model", cfg.ModelPath))
		return nil
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		logger.Error("ONNX Runtime session options failed", zap.Error(err))
		return nil
	}
	defer options.Destroy()

	if strings.HasPrefix(strings.ToLower(cfg.Device), "cuda") {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			logger.Error("CUDA provider options failed", zap.Error(err))
			return nil
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			logger.Error("Failed to enable CUDA execution provider", zap.Error(err))
			return nil
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, options)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", cfg.ModelPath))
		return nil
	}

	logger.Info("ONNX Runtime backend ready",
		zap.String("model", cfg.ModelPath),
		zap.String("device", cfg.Device),
		zap.Strings("inputs", inputNames),
		zap.Strings("hidden_state_outputs", outputNames))
	return &OnnxBackend{session: sess, inputNames: inputNames, outputNames: outputNames, logger: logger, ready: true}
}

// IsReady reports whether the backend is initialized.
func (b *OnnxBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

// Forward runs inference for the batch and returns per-layer hidden states.
func (b *OnnxBackend) Forward(ctx context.Context, batch []*Encoding) (*HiddenStates, error) {
	if !b.IsReady() {
		return nil, ErrBackendNotReady
	}
	if len(batch) == 0 {
		return &HiddenStates{}, nil
	}
	seqLen := len(batch[0].InputIDs)

	inputIDs := make([]int64, 0, len(batch)*seqLen)
	attention := make([]int64, 0, len(batch)*seqLen)
	tokenTypes := make([]int64, 0, len(batch)*seqLen)
	for _, enc := range batch {
		// Respect context cancellation
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if len(enc.InputIDs) != seqLen {
			return nil, fmt.Errorf("ragged batch: sequence lengths %d and %d", seqLen, len(enc.InputIDs))
		}
		inputIDs = append(inputIDs, enc.InputIDs...)
		attention = append(attention, enc.AttentionMask...)
		tokenTypes = append(tokenTypes, enc.TokenTypeIDs...)
	}

	shape := ort.NewShape(int64(len(batch)), int64(seqLen))
	idsTensor, err := ort.NewTensor[int64](shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, attention)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor[int64](shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	// Map tensors to the session's declared input order with name heuristics.
	inputs := make([]ort.Value, 0, len(b.inputNames))
	idUsed, maskUsed, typeUsed := false, false, false
	for _, rawName := range b.inputNames {
		name := strings.ToLower(rawName)
		switch {
		case strings.Contains(name, "ids") && !strings.Contains(name, "token_type") && !strings.Contains(name, "segment"):
			inputs = append(inputs, idsTensor)
			idUsed = true
		case strings.Contains(name, "attention") || strings.Contains(name, "mask"):
			inputs = append(inputs, maskTensor)
			maskUsed = true
		case strings.Contains(name, "token_type") || strings.Contains(name, "segment"):
			inputs = append(inputs, typeTensor)
			typeUsed = true
		default:
			// Fallback by position: first unseen -> ids, then mask, then type
			switch {
			case !idUsed:
				inputs = append(inputs, idsTensor)
				idUsed = true
			case !maskUsed:
				inputs = append(inputs, maskTensor)
				maskUsed = true
			case !typeUsed:
				inputs = append(inputs, typeTensor)
				typeUsed = true
			default:
				inputs = append(inputs, idsTensor)
			}
		}
	}

	outputs := make([]ort.Value, len(b.outputNames))
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				_ = out.Destroy()
			}
		}
	}()

	hs := &HiddenStates{Batch: len(batch), SeqLen: seqLen}
	for i, out := range outputs {
		tensor, ok := out.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", b.outputNames[i])
		}
		outShape := tensor.GetShape()
		if len(outShape) != 3 {
			return nil, fmt.Errorf("output %s has shape %v, want [batch, seq, hidden]", b.outputNames[i], outShape)
		}
		hidden := int(outShape[2])
		if hs.Hidden == 0 {
			hs.Hidden = hidden
		} else if hs.Hidden != hidden {
			return nil, fmt.Errorf("inconsistent hidden sizes %d and %d", hs.Hidden, hidden)
		}

		data := tensor.GetData()
		if len(data) != len(batch)*seqLen*hidden {
			return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), outShape)
		}
		layer := make([]float32, len(data))
		copy(layer, data)
		hs.Layers = append(hs.Layers, layer)
	}

	return hs, nil
}
