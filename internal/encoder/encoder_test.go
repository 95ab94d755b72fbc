package encoder

import (
	"context"
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/doc-encoder/internal/docs"
)

// fakeBackend produces deterministic hidden states from token ids: every
// layer repeats the per-token vector scaled by (layer index + 1). Padding
// positions are filled with large values so a pooling strategy that leaks
// padding shows up immediately in the mixed-length tests.
type fakeBackend struct {
	vectors map[int64][]float32
	hidden  int
	layers  int
	closed  bool
}

func (f *fakeBackend) Forward(ctx context.Context, batch []*Encoding) (*HiddenStates, error) {
	if len(batch) == 0 {
		return &HiddenStates{}, nil
	}
	seqLen := len(batch[0].InputIDs)
	hs := &HiddenStates{Batch: len(batch), SeqLen: seqLen, Hidden: f.hidden}

	for l := 0; l < f.layers; l++ {
		scale := float32(l + 1)
		layer := make([]float32, len(batch)*seqLen*f.hidden)
		for b, enc := range batch {
			for s := 0; s < seqLen; s++ {
				offset := (b*seqLen + s) * f.hidden
				if enc.AttentionMask[s] == 0 {
					for d := 0; d < f.hidden; d++ {
						layer[offset+d] = 1e6
					}
					continue
				}
				vec := f.tokenVector(enc.InputIDs[s])
				for d := 0; d < f.hidden; d++ {
					layer[offset+d] = scale * vec[d]
				}
			}
		}
		hs.Layers = append(hs.Layers, layer)
	}
	return hs, nil
}

func (f *fakeBackend) tokenVector(id int64) []float32 {
	if vec, ok := f.vectors[id]; ok {
		return vec
	}
	vec := make([]float32, f.hidden)
	for d := range vec {
		vec[d] = float32((id*31+int64(d)*7)%13) / 13.0
	}
	return vec
}

func (f *fakeBackend) IsReady() bool { return !f.closed }
func (f *fakeBackend) Close() error  { f.closed = true; return nil }

// newTestVocab builds a vocabulary with the BERT special tokens plus the
// given words.
func newTestVocab(words ...string) map[string]int64 {
	vocab := map[string]int64{
		tokenPAD: 0,
		tokenUNK: 1,
		tokenCLS: 2,
		tokenSEP: 3,
	}
	id := int64(10)
	for _, word := range words {
		if _, ok := vocab[word]; !ok {
			vocab[word] = id
			id++
		}
	}
	return vocab
}

func newTestEncoder(t *testing.T, cfg Config, backend *fakeBackend, words ...string) *Encoder {
	t.Helper()
	tokenizer, err := NewTokenizer(newTestVocab(words...), cfg.MaxLength)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}
	enc, err := NewWithBackend(cfg, tokenizer, backend, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	return enc
}

func TestEncode_OutputDimension(t *testing.T) {
	backend := &fakeBackend{hidden: 768, layers: 3}
	enc := newTestEncoder(t, DefaultConfig(), backend, "hello", "world")

	roots := []*docs.Document{docs.NewDocument("d1", "hello world")}
	if err := enc.Encode(context.Background(), roots, Params{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(roots[0].Embedding) != 768 {
		t.Errorf("expected 768-d embedding, got %d", len(roots[0].Embedding))
	}
}

func TestEncode_EmptyTextSkipped(t *testing.T) {
	backend := &fakeBackend{hidden: 16, layers: 2}
	enc := newTestEncoder(t, DefaultConfig(), backend, "doc")

	roots := make([]*docs.Document, 10)
	for i := range roots {
		roots[i] = docs.NewDocument(fmt.Sprintf("d%d", i), fmt.Sprintf("doc %d", i))
	}
	roots[5].Text = ""

	if err := enc.Encode(context.Background(), roots, Params{BatchSize: 3}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	encoded := 0
	for i, doc := range roots {
		if i == 5 {
			if doc.Embedding != nil {
				t.Error("empty-text document should have no embedding")
			}
			continue
		}
		if len(doc.Embedding) != 16 {
			t.Errorf("document %d: expected 16-d embedding, got %d", i, len(doc.Embedding))
			continue
		}
		encoded++
	}
	if encoded != 9 {
		t.Errorf("expected 9 encoded documents, got %d", encoded)
	}
}

func TestEncode_WhitespaceOnlySkipped(t *testing.T) {
	backend := &fakeBackend{hidden: 8, layers: 1}
	enc := newTestEncoder(t, DefaultConfig(), backend, "text")

	roots := []*docs.Document{docs.NewDocument("d1", "   \t\n")}
	if err := enc.Encode(context.Background(), roots, Params{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if roots[0].Embedding != nil {
		t.Error("whitespace-only document should have no embedding")
	}
}

func TestEncode_TraversalPaths(t *testing.T) {
	buildTree := func() []*docs.Document {
		root := docs.NewDocument("root1", "blah")
		c1 := root.AddChunk(docs.NewDocument("chunk11", "blah"))
		root.AddChunk(docs.NewDocument("chunk12", "blah"))
		root.AddChunk(docs.NewDocument("chunk13", "blah"))
		c1.AddChunk(docs.NewDocument("chunk111", "blah"))
		c1.AddChunk(docs.NewDocument("chunk112", "blah"))
		return []*docs.Document{root}
	}

	countAtDepth := func(roots []*docs.Document, depth int) int {
		count := 0
		for _, doc := range docs.AtDepth(roots, depth) {
			if doc.Embedding != nil {
				count++
			}
		}
		return count
	}

	cases := []struct {
		paths  string
		counts [3]int // encoded docs at depths 0, 1, 2
	}{
		{"@r", [3]int{1, 0, 0}},
		{"@c", [3]int{0, 3, 0}},
		{"@cc", [3]int{0, 0, 2}},
		{"@cc,r", [3]int{1, 0, 2}},
	}

	for _, tc := range cases {
		t.Run(tc.paths, func(t *testing.T) {
			backend := &fakeBackend{hidden: 8, layers: 1}
			enc := newTestEncoder(t, DefaultConfig(), backend, "blah")

			roots := buildTree()
			if err := enc.Encode(context.Background(), roots, Params{TraversalPaths: tc.paths}); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			for depth, expected := range tc.counts {
				if got := countAtDepth(roots, depth); got != expected {
					t.Errorf("depth %d: expected %d embeddings, got %d", depth, expected, got)
				}
			}
		})
	}
}

func TestEncode_InvalidTraversal(t *testing.T) {
	backend := &fakeBackend{hidden: 8, layers: 1}
	enc := newTestEncoder(t, DefaultConfig(), backend, "blah")

	roots := []*docs.Document{docs.NewDocument("d1", "blah")}
	if err := enc.Encode(context.Background(), roots, Params{TraversalPaths: "@zz"}); err == nil {
		t.Error("expected error for invalid traversal expression")
	}
}

func TestEncode_BatchSizeInvariance(t *testing.T) {
	reference := func(batchSize int) [][]float32 {
		backend := &fakeBackend{hidden: 32, layers: 2}
		enc := newTestEncoder(t, DefaultConfig(), backend, "hello", "there")

		roots := make([]*docs.Document, 32)
		for i := range roots {
			roots[i] = docs.NewDocument(fmt.Sprintf("d%d", i), "hello there")
		}
		if err := enc.Encode(context.Background(), roots, Params{BatchSize: batchSize}); err != nil {
			t.Fatalf("Encode with batch size %d failed: %v", batchSize, err)
		}

		vectors := make([][]float32, len(roots))
		for i, doc := range roots {
			vectors[i] = doc.Embedding
		}
		return vectors
	}

	baseline := reference(1)
	for _, batchSize := range []int{2, 4, 8} {
		vectors := reference(batchSize)
		for i, vec := range vectors {
			if len(vec) != 32 {
				t.Fatalf("batch size %d: document %d has %d dims, want 32", batchSize, i, len(vec))
			}
			for d := range vec {
				if vec[d] != baseline[i][d] {
					t.Fatalf("batch size %d: document %d differs from batch size 1 at dim %d", batchSize, i, d)
				}
			}
		}
	}
}

func TestEncode_PoolingStrategies(t *testing.T) {
	pooled := make(map[PoolingStrategy][]float32)
	for _, strategy := range []PoolingStrategy{PoolingCLS, PoolingMean, PoolingMin, PoolingMax} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Pooling = strategy
			backend := &fakeBackend{hidden: 24, layers: 2}
			enc := newTestEncoder(t, cfg, backend, "hello", "world")

			roots := []*docs.Document{docs.NewDocument("d1", "hello world")}
			if err := enc.Encode(context.Background(), roots, Params{}); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(roots[0].Embedding) != 24 {
				t.Errorf("expected 24-d embedding, got %d", len(roots[0].Embedding))
			}
			pooled[strategy] = roots[0].Embedding
		})
	}

	// Different strategies over the same hidden states must not all agree.
	if equalVectors(pooled[PoolingMin], pooled[PoolingMax]) {
		t.Error("min and max pooling produced identical vectors")
	}
}

func TestEncode_LayerIndex(t *testing.T) {
	encode := func(layerIndex int) []float32 {
		cfg := DefaultConfig()
		cfg.LayerIndex = layerIndex
		backend := &fakeBackend{hidden: 12, layers: 3}
		enc := newTestEncoder(t, cfg, backend, "hello")

		roots := []*docs.Document{docs.NewDocument("d1", "hello")}
		if err := enc.Encode(context.Background(), roots, Params{}); err != nil {
			t.Fatalf("Encode with layer %d failed: %v", layerIndex, err)
		}
		return roots[0].Embedding
	}

	first := encode(0)
	second := encode(1)
	last := encode(-1)

	for _, vec := range [][]float32{first, second, last} {
		if len(vec) != 12 {
			t.Fatalf("expected 12-d embedding, got %d", len(vec))
		}
	}
	if equalVectors(first, last) {
		t.Error("layer 0 and layer -1 produced identical vectors")
	}
	if !equalVectors(encode(2), last) {
		t.Error("layer 2 and layer -1 should address the same layer")
	}
	_ = second
}

func TestEncode_LayerIndexOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LayerIndex = 7
	backend := &fakeBackend{hidden: 8, layers: 3}
	enc := newTestEncoder(t, cfg, backend, "hello")

	roots := []*docs.Document{docs.NewDocument("d1", "hello")}
	if err := enc.Encode(context.Background(), roots, Params{}); err == nil {
		t.Error("expected error for layer index beyond available layers")
	}
}

// TestEncode_MixedLengthBatch checks that mean pooling excludes padded
// positions from the denominator: a short text must encode identically
// whether it is alone in a batch or padded next to a much longer sibling.
func TestEncode_MixedLengthBatch(t *testing.T) {
	words := []string{"short", "text", "a", "much", "longer", "piece", "with", "many", "more", "tokens", "inside"}

	encode := func(texts []string) [][]float32 {
		backend := &fakeBackend{hidden: 16, layers: 2}
		enc := newTestEncoder(t, DefaultConfig(), backend, words...)
		vectors, err := enc.EncodeTexts(context.Background(), texts)
		if err != nil {
			t.Fatalf("EncodeTexts failed: %v", err)
		}
		return vectors
	}

	alone := encode([]string{"short text"})[0]
	long := "a much longer piece with many more tokens inside"
	batched := encode([]string{"short text", long})[0]

	if len(alone) != len(batched) {
		t.Fatalf("dimension mismatch: %d vs %d", len(alone), len(batched))
	}
	for d := range alone {
		if math.Abs(float64(alone[d]-batched[d])) > 1e-5 {
			t.Fatalf("padding leaked into mean pooling at dim %d: %f vs %f", d, alone[d], batched[d])
		}
	}
}

// TestEncode_SemanticSimilarity is a regression check that nearest-neighbor
// ranking groups the two animal sentences and the two aircraft sentences.
func TestEncode_SemanticSimilarity(t *testing.T) {
	animal := []float32{1, 0, 0, 0}
	aircraft := []float32{0, 1, 0, 0}
	neutral := []float32{0, 0, 0.2, 0}

	words := map[string][]float32{
		"furry": animal, "animal": animal, "long": animal, "tail": animal,
		"domesticated": animal, "mammal": animal, "four": animal, "legs": animal,
		"aircraft": aircraft, "uses": aircraft, "rotating": aircraft, "wings": aircraft,
		"flying": aircraft, "vehicle": aircraft, "fixed": aircraft, "engines": aircraft,
		"a": neutral, "that": neutral, "with": neutral, "type": neutral,
		"of": neutral, "has": neutral, "and": neutral,
	}

	vocab := newTestVocab()
	vectors := map[int64][]float32{
		vocab[tokenCLS]: neutral,
		vocab[tokenSEP]: neutral,
		vocab[tokenUNK]: neutral,
	}
	id := int64(10)
	for word, vec := range words {
		vocab[word] = id
		vectors[id] = vec
		id++
	}

	tokenizer, err := NewTokenizer(vocab, 512)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}
	backend := &fakeBackend{hidden: 4, layers: 1, vectors: vectors}
	enc, err := NewWithBackend(DefaultConfig(), tokenizer, backend, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}

	roots := []*docs.Document{
		docs.NewDocument("A", "a furry animal that with a long tail"),
		docs.NewDocument("B", "a domesticated mammal with four legs"),
		docs.NewDocument("C", "a type of aircraft that uses rotating wings"),
		docs.NewDocument("D", "flying vehicle that has fixed wings and engines"),
	}
	if err := enc.Encode(context.Background(), roots, Params{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	nearest := func(i int) string {
		best := -1
		bestSim := float32(-2)
		for j := range roots {
			if j == i {
				continue
			}
			sim := CosineSimilarity(roots[i].Embedding, roots[j].Embedding)
			if sim > bestSim {
				bestSim = sim
				best = j
			}
		}
		return roots[best].ID
	}

	expected := []string{"B", "A", "D", "C"}
	for i, want := range expected {
		if got := nearest(i); got != want {
			t.Errorf("nearest neighbor of %s: expected %s, got %s", roots[i].ID, want, got)
		}
	}
}

func TestEncodeTexts_EmptyPositions(t *testing.T) {
	backend := &fakeBackend{hidden: 8, layers: 1}
	enc := newTestEncoder(t, DefaultConfig(), backend, "one", "two")

	vectors, err := enc.EncodeTexts(context.Background(), []string{"one", "", "two"})
	if err != nil {
		t.Fatalf("EncodeTexts failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(vectors))
	}
	if vectors[1] != nil {
		t.Error("empty text should yield nil vector")
	}
	if len(vectors[0]) != 8 || len(vectors[2]) != 8 {
		t.Error("non-empty texts should yield 8-d vectors")
	}
}

func TestNewWithBackend_InvalidConfig(t *testing.T) {
	tokenizer, err := NewTokenizer(newTestVocab("x"), 16)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}
	backend := &fakeBackend{hidden: 4, layers: 1}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"InvalidPooling", func(c *Config) { c.Pooling = "median" }},
		{"ZeroMaxLength", func(c *Config) { c.MaxLength = 0 }},
		{"ZeroBatchSize", func(c *Config) { c.BatchSize = 0 }},
		{"BadTraversal", func(c *Config) { c.TraversalPaths = "@q" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if _, err := NewWithBackend(cfg, tokenizer, backend, zap.NewNop()); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestHiddenStates_Layer(t *testing.T) {
	hs := &HiddenStates{Layers: [][]float32{{1}, {2}, {3}}}

	last, err := hs.Layer(-1)
	if err != nil {
		t.Fatalf("Layer(-1) failed: %v", err)
	}
	if last[0] != 3 {
		t.Errorf("Layer(-1) should be the last layer, got %v", last)
	}

	first, err := hs.Layer(0)
	if err != nil {
		t.Fatalf("Layer(0) failed: %v", err)
	}
	if first[0] != 1 {
		t.Errorf("Layer(0) should be the first layer, got %v", first)
	}

	if _, err := hs.Layer(3); err == nil {
		t.Error("Layer(3) of 3 layers should fail")
	}
	if _, err := hs.Layer(-4); err == nil {
		t.Error("Layer(-4) of 3 layers should fail")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if sim := CosineSimilarity(a, a); sim < 0.99 {
		t.Errorf("identical vectors should have similarity ~1.0, got %f", sim)
	}
	if sim := CosineSimilarity(a, b); sim > 0.01 {
		t.Errorf("orthogonal vectors should have similarity ~0.0, got %f", sim)
	}
	if sim := CosineSimilarity(a, []float32{1, 2}); sim != 0 {
		t.Errorf("mismatched lengths should yield 0, got %f", sim)
	}
}

func equalVectors(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
