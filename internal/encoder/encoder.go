package encoder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/doc-encoder/internal/docs"
)

// Encoder maps document texts to dense vector embeddings using a pretrained
// transformer. Construction loads the tokenizer vocabulary and the model
// once; the encoder is then read-only and safe to reuse across calls.
type Encoder struct {
	config    Config
	logger    *zap.Logger
	tokenizer *Tokenizer
	backend   TransformerBackend
}

// New creates an encoder from configuration, loading the vocabulary from
// cfg.VocabPath and the model through the build's transformer backend.
func New(cfg Config, logger *zap.Logger) (*Encoder, error) {
	backend := NewTransformerBackend(logger, cfg)
	if backend == nil {
		return nil, fmt.Errorf("%w: no transformer backend in this build (missing 'onnx' tag?)", ErrBackendNotReady)
	}

	tokenizer, err := NewTokenizerFromFile(cfg.VocabPath, cfg.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	return NewWithBackend(cfg, tokenizer, backend, logger)
}

// NewWithBackend creates an encoder over an existing tokenizer and backend.
func NewWithBackend(cfg Config, tokenizer *Tokenizer, backend TransformerBackend, logger *zap.Logger) (*Encoder, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if tokenizer == nil || backend == nil {
		return nil, fmt.Errorf("%w: tokenizer and backend are required", ErrInvalidConfig)
	}

	logger.Info("Encoder initialized",
		zap.String("model", cfg.ModelName),
		zap.String("device", cfg.Device),
		zap.String("pooling", string(cfg.Pooling)),
		zap.Int("layer_index", cfg.LayerIndex),
		zap.Int("max_length", cfg.MaxLength),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("vocab_size", tokenizer.VocabSize()))

	return &Encoder{config: cfg, logger: logger, tokenizer: tokenizer, backend: backend}, nil
}

func validate(cfg Config) error {
	if !cfg.Pooling.Valid() {
		return fmt.Errorf("%w: pooling %q (must be one of: cls, mean, min, max)", ErrInvalidConfig, cfg.Pooling)
	}
	if cfg.MaxLength <= 0 {
		return fmt.Errorf("%w: max_length must be positive", ErrInvalidConfig)
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	}
	if _, err := docs.ParseTraversalPaths(cfg.TraversalPaths); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Config returns the encoder configuration.
func (e *Encoder) Config() Config {
	return e.config
}

// Encode selects documents from the trees rooted at roots per the traversal
// paths, encodes their texts in fixed-size batches and writes the resulting
// vectors to each document's embedding field in place. Documents with empty
// text are skipped and keep no embedding. Backend errors abort the call.
func (e *Encoder) Encode(ctx context.Context, roots []*docs.Document, params Params) error {
	expr := e.config.TraversalPaths
	if params.TraversalPaths != "" {
		expr = params.TraversalPaths
	}
	paths, err := docs.ParseTraversalPaths(expr)
	if err != nil {
		return err
	}

	batchSize := e.config.BatchSize
	if params.BatchSize > 0 {
		batchSize = params.BatchSize
	}

	selected := paths.Select(roots)
	targets := make([]*docs.Document, 0, len(selected))
	for _, doc := range selected {
		if strings.TrimSpace(doc.Text) == "" {
			continue // skipped silently, no embedding assigned
		}
		targets = append(targets, doc)
	}

	start := time.Now()
	for i := 0; i < len(targets); i += batchSize {
		end := i + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[i:end]

		texts := make([]string, len(batch))
		for j, doc := range batch {
			texts[j] = doc.Text
		}

		vectors, err := e.encodeBatch(ctx, texts)
		if err != nil {
			return err
		}
		for j, doc := range batch {
			doc.Embedding = vectors[j]
		}
	}

	e.logger.Debug("Encode completed",
		zap.String("traversal_paths", expr),
		zap.Int("selected", len(selected)),
		zap.Int("encoded", len(targets)),
		zap.Int("batch_size", batchSize),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// EncodeTexts encodes plain texts in fixed-size batches and returns one
// vector per text. Empty texts yield a nil vector at their position.
func (e *Encoder) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	var pending []string
	var indices []int
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batchVectors, err := e.encodeBatch(ctx, pending)
		if err != nil {
			return err
		}
		for j, idx := range indices {
			vectors[idx] = batchVectors[j]
		}
		pending = pending[:0]
		indices = indices[:0]
		return nil
	}

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pending = append(pending, text)
		indices = append(indices, i)
		if len(pending) == e.config.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// encodeBatch runs one tokenize -> forward -> pool pass. All texts must be
// non-empty.
func (e *Encoder) encodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	encodings := e.tokenizer.EncodeBatch(texts)

	hidden, err := e.backend.Forward(ctx, encodings)
	if err != nil {
		return nil, err
	}

	layer, err := hidden.Layer(e.config.LayerIndex)
	if err != nil {
		return nil, err
	}

	return poolLayer(e.config.Pooling, layer, encodings, hidden.SeqLen, hidden.Hidden)
}

// Close releases the backend's native resources.
func (e *Encoder) Close() error {
	return e.backend.Close()
}
