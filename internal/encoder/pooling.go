package encoder

import (
	"fmt"
	"math"
)

// poolLayer collapses one layer of hidden states into a single vector per
// document. layer is flat [len(batch)*seqLen*hidden]; positions with a zero
// attention mask are excluded from every strategy, so padding never leaks
// into the result. Mean pooling divides by the attended token count, not the
// padded sequence length.
func poolLayer(strategy PoolingStrategy, layer []float32, batch []*Encoding, seqLen, hidden int) ([][]float32, error) {
	pooled := make([][]float32, len(batch))
	for b, enc := range batch {
		base := b * seqLen * hidden
		vec := make([]float32, hidden)

		switch strategy {
		case PoolingCLS:
			copy(vec, layer[base:base+hidden])

		case PoolingMean:
			attended := 0
			for s := 0; s < seqLen; s++ {
				if enc.AttentionMask[s] == 0 {
					continue
				}
				attended++
				offset := base + s*hidden
				for d := 0; d < hidden; d++ {
					vec[d] += layer[offset+d]
				}
			}
			if attended == 0 {
				return nil, fmt.Errorf("document %d has no attended tokens", b)
			}
			inv := 1.0 / float32(attended)
			for d := 0; d < hidden; d++ {
				vec[d] *= inv
			}

		case PoolingMin, PoolingMax:
			first := true
			for s := 0; s < seqLen; s++ {
				if enc.AttentionMask[s] == 0 {
					continue
				}
				offset := base + s*hidden
				if first {
					copy(vec, layer[offset:offset+hidden])
					first = false
					continue
				}
				for d := 0; d < hidden; d++ {
					v := layer[offset+d]
					if strategy == PoolingMax && v > vec[d] {
						vec[d] = v
					}
					if strategy == PoolingMin && v < vec[d] {
						vec[d] = v
					}
				}
			}
			if first {
				return nil, fmt.Errorf("document %d has no attended tokens", b)
			}

		default:
			return nil, fmt.Errorf("%w: unknown pooling strategy %q", ErrInvalidConfig, strategy)
		}

		pooled[b] = vec
	}
	return pooled, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched or zero-length inputs.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}
