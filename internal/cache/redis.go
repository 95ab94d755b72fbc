package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EmbeddingCache handles Redis-based caching of computed embeddings,
// keyed by the model name and the exact input text.
type EmbeddingCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   int64
	misses int64
}

// NewEmbeddingCache creates a new Redis-based embedding cache
func NewEmbeddingCache(config *Config, logger *zap.Logger) (*EmbeddingCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	c := &EmbeddingCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Embedding cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return c, nil
}

// ping tests the Redis connection
func (c *EmbeddingCache) ping(ctx context.Context) error {
	_, err := c.client.Ping(ctx).Result()
	return err
}

// Get looks up a cached embedding for the given model and text. Lookup
// failures are treated as misses so the caller can always recompute.
func (c *EmbeddingCache) Get(ctx context.Context, model, text string) (*LookupResult, error) {
	cacheKey := c.textKey(model, text)

	cachedData, err := c.client.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		c.stats.misses++
		c.logger.Debug("Cache miss", zap.String("key", cacheKey))
		return &LookupResult{CacheHit: false}, nil
	} else if err != nil {
		c.logger.Error("Cache lookup failed", zap.Error(err))
		return &LookupResult{CacheHit: false}, nil
	}

	var cached CachedEmbedding
	if err := json.Unmarshal([]byte(cachedData), &cached); err != nil {
		c.logger.Error("Failed to unmarshal cached embedding", zap.Error(err))
		// Delete corrupted cache entry
		c.client.Del(ctx, cacheKey)
		return &LookupResult{CacheHit: false}, nil
	}

	c.stats.hits++
	c.logger.Debug("Cache hit",
		zap.String("key", cacheKey),
		zap.Int("dimensions", len(cached.Embedding)))

	return &LookupResult{Embedding: &cached, CacheHit: true}, nil
}

// Set caches an embedding for the given model and text
func (c *EmbeddingCache) Set(ctx context.Context, model, text string, embedding []float32) error {
	cacheKey := c.textKey(model, text)

	cached := CachedEmbedding{
		Text:      text,
		Model:     model,
		Embedding: embedding,
		CachedAt:  time.Now(),
		TTL:       int64(c.config.DefaultTTL.Seconds()),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding for caching: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey, data, c.config.DefaultTTL).Err(); err != nil {
		c.logger.Error("Failed to cache embedding", zap.Error(err))
		return fmt.Errorf("failed to cache embedding: %w", err)
	}

	return nil
}

// SetBatch caches multiple embeddings using a Redis pipeline. Positions
// with nil embeddings are skipped.
func (c *EmbeddingCache) SetBatch(ctx context.Context, model string, texts []string, embeddings [][]float32) error {
	if len(texts) != len(embeddings) {
		return fmt.Errorf("texts and embeddings length mismatch")
	}

	if len(texts) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	cached := 0

	for i, text := range texts {
		if embeddings[i] == nil {
			continue
		}

		entry := CachedEmbedding{
			Text:      text,
			Model:     model,
			Embedding: embeddings[i],
			CachedAt:  time.Now(),
			TTL:       int64(c.config.DefaultTTL.Seconds()),
		}

		data, err := json.Marshal(entry)
		if err != nil {
			c.logger.Error("Failed to marshal embedding for batch caching", zap.Error(err))
			continue
		}

		pipe.Set(ctx, c.textKey(model, text), data, c.config.DefaultTTL)
		cached++
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	c.logger.Debug("Batch cache operation completed",
		zap.Int("cached_embeddings", cached))

	return nil
}

// GetStats returns cache performance statistics
func (c *EmbeddingCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   c.stats.hits,
		Misses: c.stats.misses,
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	keys, err := c.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached embeddings under the configured key prefix
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	pattern := c.config.KeyPrefix + "*"

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			c.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (c *EmbeddingCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// textKey creates a cache key from the model name and input text
func (c *EmbeddingCache) textKey(model, text string) string {
	hasher := sha256.New()
	hasher.Write([]byte(model))
	hasher.Write([]byte{'|'})
	hasher.Write([]byte(text))

	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:text:%s", c.config.KeyPrefix, hash[:16])
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
