package store

import (
	"time"
)

// DocumentVector represents a document with its embedding
type DocumentVector struct {
	ID        int64     `db:"id" json:"id"`
	DocID     string    `db:"doc_id" json:"doc_id"`
	Text      string    `db:"text" json:"text"`
	TextHash  string    `db:"text_hash" json:"text_hash"`
	Model     string    `db:"model" json:"model"`
	Embedding []float32 `db:"embedding" json:"embedding"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SimilarityResult represents a vector similarity search result
type SimilarityResult struct {
	Vector     *DocumentVector `json:"vector"`
	Similarity float32         `json:"similarity"`
	Distance   float32         `json:"distance"`
}

// SearchOptions contains options for vector similarity search
type SearchOptions struct {
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	ModelFilter   string  `json:"model_filter,omitempty"`
}

// VectorStats represents database statistics
type VectorStats struct {
	TotalVectors int64   `json:"total_vectors"`
	Models       int64   `json:"models"`
	AvgDimension float64 `json:"avg_dimension"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"errors,omitempty"`
}
