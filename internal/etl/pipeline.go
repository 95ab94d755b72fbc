package etl

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/doc-encoder/internal/cache"
	"github.com/raaihank/doc-encoder/internal/encoder"
	"github.com/raaihank/doc-encoder/internal/store"
)

// Pipeline reads document datasets, encodes their texts and loads the
// resulting embeddings into the vector store.
type Pipeline struct {
	vectorStore    *store.Store
	encoder        *encoder.Encoder
	embeddingCache *cache.EmbeddingCache
	config         *Config
	logger         *zap.Logger
	stats          *ProcessingStats
	mu             sync.RWMutex
}

// NewPipeline creates a new ETL pipeline. The cache is optional.
func NewPipeline(
	vectorStore *store.Store,
	enc *encoder.Encoder,
	embeddingCache *cache.EmbeddingCache,
	config *Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		vectorStore:    vectorStore,
		encoder:        enc,
		embeddingCache: embeddingCache,
		config:         config,
		logger:         logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile processes a dataset file (CSV, Parquet, or JSON lines)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	p.logger.Info("Starting ETL pipeline",
		zap.String("file", filePath),
		zap.Int("batch_size", p.config.BatchSize))

	start := time.Now()
	result := &ProcessingResult{}

	// Detect file format
	format := DetectFileFormat(filePath)
	p.logger.Info("Detected file format", zap.String("format", string(format)))

	// Reset stats
	p.resetStats()

	// Process based on file format
	switch format {
	case FormatCSV:
		if err := p.processCSV(ctx, filePath, result); err != nil {
			return result, fmt.Errorf("CSV processing failed: %w", err)
		}
	case FormatParquet:
		if err := p.processParquet(ctx, filePath, result); err != nil {
			return result, fmt.Errorf("Parquet processing failed: %w", err)
		}
	case FormatJSON:
		if err := p.processJSON(ctx, filePath, result); err != nil {
			return result, fmt.Errorf("JSON processing failed: %w", err)
		}
	default:
		return result, fmt.Errorf("unsupported file format: %s", format)
	}

	result.Duration = time.Since(start)

	// Create vector index if requested and we have enough data
	if p.config.CreateIndex && result.ProcessedOK > 1000 {
		p.logger.Info("Creating vector similarity index...")
		indexStart := time.Now()
		if err := p.vectorStore.CreateIndex(ctx); err != nil {
			p.logger.Warn("Failed to create vector index", zap.Error(err))
		} else {
			p.logger.Info("Vector index created", zap.Duration("duration", time.Since(indexStart)))
		}
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("cache_hits", result.CacheHits),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

// processCSV processes CSV files with doc_id and text columns
func (p *Pipeline) processCSV(ctx context.Context, filePath string, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 2 // doc_id, text

	// Read header
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	// Process records in batches
	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				continue
			}

			if len(record) != 2 {
				p.logger.Warn("Invalid CSV record length", zap.Int("length", len(record)))
				continue
			}

			dataRecord := &DataRecord{
				DocID: strings.TrimSpace(record[0]),
				Text:  strings.TrimSpace(record[1]),
			}

			if p.validateRecord(dataRecord) {
				batch = append(batch, dataRecord)
			}
		}

		return batch, nil
	}, result)
}

// processParquet processes Parquet files
func (p *Pipeline) processParquet(ctx context.Context, filePath string, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	// Process records in batches
	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read Parquet record", zap.Error(err))
				continue
			}

			if p.validateRecord(&record) {
				batch = append(batch, &record)
			}
		}

		return batch, nil
	}, result)
}

// processJSON processes JSON files (one JSON object per line)
func (p *Pipeline) processJSON(ctx context.Context, filePath string, result *ProcessingResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	// Process records in batches
	return p.processBatches(ctx, func() ([]*DataRecord, error) {
		var batch []*DataRecord

		for len(batch) < p.config.BatchSize {
			var record DataRecord
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read JSON record", zap.Error(err))
				continue
			}

			if p.validateRecord(&record) {
				batch = append(batch, &record)
			}
		}

		return batch, nil
	}, result)
}

// processBatches processes data in batches using the provided reader function
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*DataRecord, error), result *ProcessingResult) error {
	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Read next batch
		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) == 0 {
			break // End of file
		}

		// Process batch
		if err := p.processBatch(ctx, batch, result); err != nil {
			p.logger.Error("Batch processing failed", zap.Error(err))
			result.ProcessedFailed += int64(len(batch))
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		result.TotalRecords += int64(len(batch))
		result.ProcessedOK += int64(len(batch))

		// Progress reporting
		if result.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result)
		}
	}

	return nil
}

// processBatch encodes a single batch of records and stores the vectors.
// Texts found in the cache are not re-encoded.
func (p *Pipeline) processBatch(ctx context.Context, batch []*DataRecord, result *ProcessingResult) error {
	if len(batch) == 0 {
		return nil
	}

	model := p.encoder.Config().ModelName
	embeddings := make([][]float32, len(batch))

	// Consult the cache first so known texts skip the model entirely
	pending := make([]int, 0, len(batch))
	if p.config.UseCache && p.embeddingCache != nil {
		cacheStart := time.Now()
		for i, record := range batch {
			lookup, err := p.embeddingCache.Get(ctx, model, record.Text)
			if err == nil && lookup.CacheHit {
				embeddings[i] = lookup.Embedding.Embedding
				result.CacheHits++
				continue
			}
			pending = append(pending, i)
		}
		result.CacheTime += time.Since(cacheStart)
	} else {
		for i := range batch {
			pending = append(pending, i)
		}
	}

	// Encode the texts the cache did not cover
	if len(pending) > 0 {
		texts := make([]string, len(pending))
		for j, i := range pending {
			texts[j] = batch[i].Text
		}

		embeddingStart := time.Now()
		vectors, err := p.encoder.EncodeTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("batch encoding failed: %w", err)
		}
		result.EmbeddingTime += time.Since(embeddingStart)

		for j, i := range pending {
			embeddings[i] = vectors[j]
		}

		if p.config.UseCache && p.embeddingCache != nil {
			cacheStart := time.Now()
			if err := p.embeddingCache.SetBatch(ctx, model, texts, vectors); err != nil {
				p.logger.Warn("Failed to update cache", zap.Error(err))
			}
			result.CacheTime += time.Since(cacheStart)
		}
	}

	// Build document vectors, dropping records the encoder skipped
	vectors := make([]*store.DocumentVector, 0, len(batch))
	for i, record := range batch {
		if embeddings[i] == nil {
			continue
		}
		vectors = append(vectors, &store.DocumentVector{
			DocID:     record.DocID,
			Text:      record.Text,
			TextHash:  computeTextHash(record.Text),
			Model:     model,
			Embedding: embeddings[i],
		})
	}

	if len(vectors) == 0 {
		return nil
	}

	// Store in database
	dbStart := time.Now()
	batchResult, err := p.vectorStore.BatchInsert(ctx, vectors)
	if err != nil {
		return fmt.Errorf("database batch insert failed: %w", err)
	}
	result.DatabaseTime += time.Since(dbStart)

	p.logger.Debug("Batch processed successfully",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", batchResult.Inserted),
		zap.Int64("failed", batchResult.Failed))

	return nil
}

// validateRecord validates a data record
func (p *Pipeline) validateRecord(record *DataRecord) bool {
	if !p.config.ValidateData {
		return true
	}

	if strings.TrimSpace(record.Text) == "" {
		p.logger.Debug("Invalid record: empty text")
		return false
	}

	maxLength := p.config.MaxTextLength
	if maxLength <= 0 {
		maxLength = 10000
	}
	if len(record.Text) > maxLength {
		p.logger.Debug("Invalid record: text too long", zap.Int("length", len(record.Text)))
		return false
	}

	return true
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("cache_hits", result.CacheHits),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Create a copy
	stats := *p.stats
	return &stats
}

// computeTextHash computes SHA-256 hash of the given text
func computeTextHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
