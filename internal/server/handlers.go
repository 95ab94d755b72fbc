package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/doc-encoder/internal/docs"
	"github.com/raaihank/doc-encoder/internal/encoder"
	"github.com/raaihank/doc-encoder/internal/store"
	"github.com/raaihank/doc-encoder/internal/websocket"
)

// EncodeRequest is the body of POST /encode
type EncodeRequest struct {
	Docs       []*docs.Document `json:"docs"`
	Parameters encoder.Params   `json:"parameters"`
}

// EncodeResponse is the body returned by POST /encode
type EncodeResponse struct {
	Docs []*docs.Document `json:"docs"`
}

// SimilarRequest is the body of POST /similar
type SimilarRequest struct {
	Text          string  `json:"text"`
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
}

// SimilarResponse is the body returned by POST /similar
type SimilarResponse struct {
	Results []*store.SimilarityResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleEncode encodes the documents selected by the traversal paths and
// returns the same tree with embeddings attached
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req EncodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if len(req.Docs) == 0 {
		writeError(w, http.StatusBadRequest, "no documents provided")
		return
	}

	// Reject bad traversal expressions before touching the model
	if req.Parameters.TraversalPaths != "" {
		if _, err := docs.ParseTraversalPaths(req.Parameters.TraversalPaths); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	start := time.Now()
	if err := s.encoder.Encode(r.Context(), req.Docs, req.Parameters); err != nil {
		log.Error("Encoding failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "encoding failed")
		return
	}
	duration := time.Since(start)

	encoded, skipped, dimensions := summarize(req.Docs)

	// Broadcast encode event to WebSocket clients
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeEncode,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.EncodeEvent{
			RequestID:      requestID,
			Documents:      len(req.Docs),
			Encoded:        encoded,
			Skipped:        skipped,
			Dimensions:     dimensions,
			TraversalPaths: req.Parameters.TraversalPaths,
			ProcessingMS:   float64(duration.Nanoseconds()) / 1e6,
		},
	})

	writeJSON(w, http.StatusOK, EncodeResponse{Docs: req.Docs})
}

// handleSimilar encodes the given text and searches the vector store for
// the closest stored documents
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	if s.vectorStore == nil {
		writeError(w, http.StatusServiceUnavailable, "vector store is not configured")
		return
	}

	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	vectors, err := s.encoder.EncodeTexts(r.Context(), []string{req.Text})
	if err != nil {
		log.Error("Encoding failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "encoding failed")
		return
	}
	if vectors[0] == nil {
		writeError(w, http.StatusBadRequest, "text is empty after normalization")
		return
	}

	options := &store.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}

	results, err := s.vectorStore.FindSimilar(r.Context(), vectors[0], options)
	if err != nil {
		log.Error("Similarity search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "similarity search failed")
		return
	}

	writeJSON(w, http.StatusOK, SimilarResponse{Results: results})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := s.encoder.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":            "doc-encoder",
		"version":         "0.1.0",
		"model":           cfg.ModelName,
		"pooling":         cfg.Pooling,
		"layer_index":     cfg.LayerIndex,
		"max_length":      cfg.MaxLength,
		"batch_size":      cfg.BatchSize,
		"traversal_paths": cfg.TraversalPaths,
		"store_enabled":   s.vectorStore != nil,
		"uptime":          time.Since(s.startedAt).String(),
	})
}

// summarize walks the full tree and counts encoded and skipped documents
func summarize(roots []*docs.Document) (encoded, skipped, dimensions int) {
	var walk func(doc *docs.Document)
	walk = func(doc *docs.Document) {
		if doc == nil {
			return
		}
		if len(doc.Embedding) > 0 {
			encoded++
			dimensions = len(doc.Embedding)
		} else {
			skipped++
		}
		for _, chunk := range doc.Chunks {
			walk(chunk)
		}
	}
	for _, root := range roots {
		walk(root)
	}
	return encoded, skipped, dimensions
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
