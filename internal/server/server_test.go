package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raaihank/doc-encoder/internal/config"
	"github.com/raaihank/doc-encoder/internal/docs"
	"github.com/raaihank/doc-encoder/internal/encoder"
	"github.com/raaihank/doc-encoder/internal/logger"
)

// stubBackend returns constant hidden states shaped after the batch.
type stubBackend struct {
	hidden int
}

func (b *stubBackend) Forward(ctx context.Context, batch []*encoder.Encoding) (*encoder.HiddenStates, error) {
	if len(batch) == 0 {
		return &encoder.HiddenStates{}, nil
	}
	seqLen := len(batch[0].InputIDs)
	layer := make([]float32, len(batch)*seqLen*b.hidden)
	for i := range layer {
		layer[i] = float32(i%7) * 0.1
	}
	return &encoder.HiddenStates{
		Layers: [][]float32{layer},
		Batch:  len(batch),
		SeqLen: seqLen,
		Hidden: b.hidden,
	}, nil
}

func (b *stubBackend) IsReady() bool { return true }
func (b *stubBackend) Close() error  { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	vocab := map[string]int64{
		"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
		"hello": 10, "world": 11, "blah": 12,
	}
	tokenizer, err := encoder.NewTokenizer(vocab, 64)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	enc, err := encoder.NewWithBackend(encoder.DefaultConfig(), tokenizer, &stubBackend{hidden: 8}, log.Logger)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}

	cfg := config.GetDefaults()
	cfg.Server.RateLimit.Enabled = false

	srv, err := New(cfg, enc, nil, log)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func TestHandleEncode(t *testing.T) {
	srv := newTestServer(t)

	root := docs.NewDocument("root1", "hello world")
	root.AddChunk(docs.NewDocument("chunk11", "blah"))

	body, _ := json.Marshal(EncodeRequest{
		Docs:       []*docs.Document{root},
		Parameters: encoder.Params{TraversalPaths: "@r,c"},
	})

	req := httptest.NewRequest(http.MethodPost, "/encode", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp EncodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Docs) != 1 {
		t.Fatalf("expected 1 root document, got %d", len(resp.Docs))
	}
	if len(resp.Docs[0].Embedding) != 8 {
		t.Errorf("root: expected 8-d embedding, got %d", len(resp.Docs[0].Embedding))
	}
	if len(resp.Docs[0].Chunks) != 1 || len(resp.Docs[0].Chunks[0].Embedding) != 8 {
		t.Error("chunk should carry an 8-d embedding")
	}
}

func TestHandleEncode_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"InvalidJSON", "{not json"},
		{"NoDocs", `{"docs":[]}`},
		{"BadTraversal", `{"docs":[{"id":"d1","text":"hello"}],"parameters":{"traversal_paths":"@zz"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/encode", bytes.NewReader([]byte(tc.body)))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleEncode_EmptyTextStaysUnencoded(t *testing.T) {
	srv := newTestServer(t)

	body := `{"docs":[{"id":"d1","text":"hello"},{"id":"d2","text":""},{"id":"d3","text":"world"}]}`
	req := httptest.NewRequest(http.MethodPost, "/encode", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp EncodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Docs[0].Embedding) != 8 || len(resp.Docs[2].Embedding) != 8 {
		t.Error("non-empty documents should be encoded")
	}
	if resp.Docs[1].Embedding != nil {
		t.Error("empty document should not be encoded")
	}
}

func TestHandleSimilar_NoStore(t *testing.T) {
	srv := newTestServer(t)

	body := `{"text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/similar", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a vector store, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var health map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy status, got %q", health["status"])
	}
}

func TestHandleInfo(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to decode info response: %v", err)
	}
	if info["model"] != "distilbert-base-uncased" {
		t.Errorf("unexpected model: %v", info["model"])
	}
	if info["pooling"] != "mean" {
		t.Errorf("unexpected pooling: %v", info["pooling"])
	}
	if info["store_enabled"] != false {
		t.Errorf("store should be reported as disabled")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(1, 2)

	if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
		t.Fatal("burst of 2 should allow two immediate requests")
	}
	if rl.allow("10.0.0.1") {
		t.Error("third immediate request should be rejected")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("a different client should have its own bucket")
	}
}
