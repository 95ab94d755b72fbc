package encoder

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// BERT-style special tokens expected in the vocabulary.
const (
	tokenPAD = "[PAD]"
	tokenUNK = "[UNK]"
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
)

// maxWordChars caps WordPiece input per word, matching the usual BERT limit.
const maxWordChars = 100

// Tokenizer converts text into WordPiece token ids ready for model input.
type Tokenizer struct {
	vocab     map[string]int64
	maxLength int

	padID int64
	unkID int64
	clsID int64
	sepID int64
}

// Encoding is a tokenized text ready for inference.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Length        int // tokens before padding, including [CLS] and [SEP]
	Truncated     bool
}

// NewTokenizer creates a tokenizer over the given vocabulary. The vocabulary
// must contain the [PAD], [UNK], [CLS] and [SEP] special tokens.
func NewTokenizer(vocab map[string]int64, maxLength int) (*Tokenizer, error) {
	if maxLength < 3 {
		return nil, fmt.Errorf("%w: max length %d leaves no room for text", ErrInvalidConfig, maxLength)
	}

	t := &Tokenizer{vocab: vocab, maxLength: maxLength}
	for _, special := range []struct {
		token string
		id    *int64
	}{
		{tokenPAD, &t.padID},
		{tokenUNK, &t.unkID},
		{tokenCLS, &t.clsID},
		{tokenSEP, &t.sepID},
	} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, fmt.Errorf("%w: vocabulary is missing %s", ErrInvalidConfig, special.token)
		}
		*special.id = id
	}
	return t, nil
}

// NewTokenizerFromFile loads a vocab.txt file (one token per line, line
// number = token id) and creates a tokenizer over it.
func NewTokenizerFromFile(vocabPath string, maxLength int) (*Tokenizer, error) {
	file, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer file.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(file)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		if token == "" {
			continue
		}
		vocab[token] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	return NewTokenizer(vocab, maxLength)
}

// MaxLength returns the truncation limit in tokens.
func (t *Tokenizer) MaxLength() int {
	return t.maxLength
}

// VocabSize returns the number of known tokens.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// Encode tokenizes a single text: [CLS] pieces... [SEP], truncated at the
// configured max length. No padding is applied.
func (t *Tokenizer) Encode(text string) *Encoding {
	ids := []int64{t.clsID}
	truncated := false

	for _, word := range basicTokenize(text) {
		pieces := t.wordpiece(word)
		if len(ids)+len(pieces) > t.maxLength-1 {
			truncated = true
			remaining := t.maxLength - 1 - len(ids)
			ids = append(ids, pieces[:remaining]...)
			break
		}
		ids = append(ids, pieces...)
	}
	ids = append(ids, t.sepID)

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}

	return &Encoding{
		InputIDs:      ids,
		AttentionMask: mask,
		TokenTypeIDs:  make([]int64, len(ids)),
		Length:        len(ids),
		Truncated:     truncated,
	}
}

// EncodeBatch tokenizes all texts and pads every encoding with [PAD] to the
// longest sequence in the batch, the way the model expects a batch tensor.
func (t *Tokenizer) EncodeBatch(texts []string) []*Encoding {
	encodings := make([]*Encoding, len(texts))
	longest := 0
	for i, text := range texts {
		encodings[i] = t.Encode(text)
		if encodings[i].Length > longest {
			longest = encodings[i].Length
		}
	}
	for _, enc := range encodings {
		t.pad(enc, longest)
	}
	return encodings
}

// pad extends an encoding to the target sequence length with [PAD] tokens
// masked out of attention.
func (t *Tokenizer) pad(enc *Encoding, seqLen int) {
	for len(enc.InputIDs) < seqLen {
		enc.InputIDs = append(enc.InputIDs, t.padID)
		enc.AttentionMask = append(enc.AttentionMask, 0)
		enc.TokenTypeIDs = append(enc.TokenTypeIDs, 0)
	}
}

// wordpiece splits a single word into subword ids using greedy longest-match.
// A word with any unknown piece collapses to a single [UNK].
func (t *Tokenizer) wordpiece(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}

	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int64{t.unkID}
	}

	var pieces []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		var pieceID int64
		found := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				pieceID = id
				found = true
				break
			}
			end--
		}
		if !found {
			return []int64{t.unkID}
		}
		pieces = append(pieces, pieceID)
		start = end
	}
	return pieces
}

// basicTokenize lowercases, strips control characters and splits text on
// whitespace and punctuation, keeping punctuation as standalone tokens.
func basicTokenize(text string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsControl(r):
			// dropped
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}
