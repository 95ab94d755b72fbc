package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/doc-encoder/internal/cache"
	"github.com/raaihank/doc-encoder/internal/config"
	"github.com/raaihank/doc-encoder/internal/encoder"
	"github.com/raaihank/doc-encoder/internal/etl"
	"github.com/raaihank/doc-encoder/internal/logger"
	"github.com/raaihank/doc-encoder/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON)")
		batchSize  = flag.Int("batch-size", 1000, "Batch size for processing")
		skipCache  = flag.Bool("skip-cache", false, "Skip the Redis embedding cache")
		skipIndex  = flag.Bool("skip-index", false, "Skip creating vector index")
		clearCache = flag.Bool("clear-cache", false, "Clear the Redis embedding cache and exit")
		showStats  = flag.Bool("stats", false, "Show database statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*clearCache && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input dataset.csv --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input dataset.parquet --skip-cache\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --clear-cache\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting doc-encoder ETL pipeline",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	// Initialize services
	services, err := initializeServices(cfg, *skipCache, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	// Handle different operations
	switch {
	case *showStats:
		if err := showDatabaseStats(ctx, services); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
	case *clearCache:
		if services.embeddingCache == nil {
			log.Fatal("Embedding cache is not enabled")
		}
		if err := services.embeddingCache.Clear(ctx); err != nil {
			log.Fatal("Failed to clear cache", zap.Error(err))
		}
	default:
		etlConfig := &etl.Config{
			BatchSize:      *batchSize,
			ValidateData:   true,
			CreateIndex:    !*skipIndex,
			UseCache:       !*skipCache && services.embeddingCache != nil,
			ProgressReport: 1000,
			MaxTextLength:  10000,
		}

		if err := processDataset(ctx, services, etlConfig, *inputFile, log); err != nil {
			log.Fatal("ETL processing failed", zap.Error(err))
		}
	}

	log.Info("ETL pipeline completed successfully")
}

// services holds all initialized services
type services struct {
	vectorStore    *store.Store
	encoder        *encoder.Encoder
	embeddingCache *cache.EmbeddingCache
}

func (s *services) cleanup() {
	if s.encoder != nil {
		s.encoder.Close()
	}
	if s.vectorStore != nil {
		s.vectorStore.Close()
	}
	if s.embeddingCache != nil {
		s.embeddingCache.Close()
	}
}

// initializeServices initializes all required services
func initializeServices(cfg *config.Config, skipCache bool, log *logger.Logger) (*services, error) {
	services := &services{}

	// Initialize vector store
	log.Info("Initializing vector store...")
	vectorStore, err := store.NewStore(&cfg.Store, log.WithComponent("store").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	services.vectorStore = vectorStore

	// Initialize encoder
	log.Info("Initializing encoder...")
	enc, err := encoder.New(cfg.Encoder, log.WithComponent("encoder").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encoder: %w", err)
	}
	services.encoder = enc

	// Initialize embedding cache
	if cfg.Cache.Enabled && !skipCache {
		log.Info("Initializing embedding cache...")
		embeddingCache, err := cache.NewEmbeddingCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
		}
		services.embeddingCache = embeddingCache
	}

	return services, nil
}

// processDataset processes the input dataset file
func processDataset(ctx context.Context, services *services, etlConfig *etl.Config, inputFile string, log *logger.Logger) error {
	log.Info("Processing dataset", zap.String("file", inputFile))

	// Check if file exists
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	// Create ETL pipeline
	pipeline := etl.NewPipeline(
		services.vectorStore,
		services.encoder,
		services.embeddingCache,
		etlConfig,
		log.Logger,
	)

	// Process the file
	result, err := pipeline.ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	// Report results
	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("cache_hits", result.CacheHits),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("embedding_time", result.EmbeddingTime),
		zap.Duration("database_time", result.DatabaseTime),
		zap.Duration("cache_time", result.CacheTime),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	return nil
}

// showDatabaseStats displays current database statistics
func showDatabaseStats(ctx context.Context, services *services) error {
	stats, err := services.vectorStore.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database stats: %w", err)
	}

	fmt.Printf("\n=== Vector Database Statistics ===\n")
	fmt.Printf("Total Vectors:  %d\n", stats.TotalVectors)
	fmt.Printf("Models:         %d\n", stats.Models)

	// Get cache stats if available
	if services.embeddingCache != nil {
		cacheStats, err := services.embeddingCache.GetStats(ctx)
		if err == nil {
			fmt.Printf("\n=== Cache Statistics ===\n")
			fmt.Printf("Cache Hits:     %d\n", cacheStats.Hits)
			fmt.Printf("Cache Misses:   %d\n", cacheStats.Misses)
			fmt.Printf("Hit Rate:       %.1f%%\n", cacheStats.HitRate)
			fmt.Printf("Total Keys:     %d\n", cacheStats.TotalKeys)
			fmt.Printf("Memory Usage:   %.2f MB\n", float64(cacheStats.MemoryUsage)/1024/1024)
		}
	}

	return nil
}
