package docs

// Document is a node in a document tree. The encoder reads Text and writes
// Embedding; Chunks hold sub-documents (chunks of chunks are allowed).
type Document struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	Embedding []float32   `json:"embedding,omitempty"`
	Chunks    []*Document `json:"chunks,omitempty"`
}

// NewDocument creates a document with the given id and text.
func NewDocument(id, text string) *Document {
	return &Document{ID: id, Text: text}
}

// AddChunk appends a sub-document and returns it.
func (d *Document) AddChunk(chunk *Document) *Document {
	d.Chunks = append(d.Chunks, chunk)
	return chunk
}

// AtDepth returns all nodes of the trees rooted at roots that sit at the
// given depth (0 = the roots themselves), in document order.
func AtDepth(roots []*Document, depth int) []*Document {
	if depth < 0 {
		return nil
	}
	level := roots
	for i := 0; i < depth; i++ {
		var next []*Document
		for _, doc := range level {
			next = append(next, doc.Chunks...)
		}
		level = next
	}
	return level
}
