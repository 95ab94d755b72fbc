package encoder

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokenizer_Encode(t *testing.T) {
	vocab := newTestVocab("hello", "world", "play", "##ing", "##ed")
	tokenizer, err := NewTokenizer(vocab, 32)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}

	t.Run("KnownWords", func(t *testing.T) {
		enc := tokenizer.Encode("Hello World")
		expected := []int64{vocab[tokenCLS], vocab["hello"], vocab["world"], vocab[tokenSEP]}
		if len(enc.InputIDs) != len(expected) {
			t.Fatalf("expected %d tokens, got %d", len(expected), len(enc.InputIDs))
		}
		for i, id := range expected {
			if enc.InputIDs[i] != id {
				t.Errorf("token %d: expected id %d, got %d", i, id, enc.InputIDs[i])
			}
		}
		for i, m := range enc.AttentionMask {
			if m != 1 {
				t.Errorf("position %d: unpadded encoding should have mask 1", i)
			}
		}
	})

	t.Run("WordpieceContinuation", func(t *testing.T) {
		enc := tokenizer.Encode("playing")
		expected := []int64{vocab[tokenCLS], vocab["play"], vocab["##ing"], vocab[tokenSEP]}
		if len(enc.InputIDs) != len(expected) {
			t.Fatalf("expected %d tokens, got %d: %v", len(expected), len(enc.InputIDs), enc.InputIDs)
		}
		for i, id := range expected {
			if enc.InputIDs[i] != id {
				t.Errorf("token %d: expected id %d, got %d", i, id, enc.InputIDs[i])
			}
		}
	})

	t.Run("UnknownWordFallsBackWhole", func(t *testing.T) {
		// "playful" starts with a known piece but has no continuation
		// for the rest, so the whole word becomes [UNK].
		enc := tokenizer.Encode("playful")
		expected := []int64{vocab[tokenCLS], vocab[tokenUNK], vocab[tokenSEP]}
		if len(enc.InputIDs) != len(expected) {
			t.Fatalf("expected %d tokens, got %d", len(expected), len(enc.InputIDs))
		}
		if enc.InputIDs[1] != vocab[tokenUNK] {
			t.Errorf("expected [UNK] id %d, got %d", vocab[tokenUNK], enc.InputIDs[1])
		}
	})

	t.Run("Truncation", func(t *testing.T) {
		short, err := NewTokenizer(vocab, 4)
		if err != nil {
			t.Fatalf("failed to create tokenizer: %v", err)
		}
		enc := short.Encode("hello world playing hello")
		if len(enc.InputIDs) != 4 {
			t.Fatalf("expected 4 tokens after truncation, got %d", len(enc.InputIDs))
		}
		if !enc.Truncated {
			t.Error("encoding should be flagged as truncated")
		}
		if enc.InputIDs[len(enc.InputIDs)-1] != vocab[tokenSEP] {
			t.Error("truncated encoding must still end with [SEP]")
		}
	})
}

func TestTokenizer_EncodeBatch(t *testing.T) {
	vocab := newTestVocab("hello", "world", "again")
	tokenizer, err := NewTokenizer(vocab, 32)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}

	batch := tokenizer.EncodeBatch([]string{"hello", "hello world again"})
	if len(batch) != 2 {
		t.Fatalf("expected 2 encodings, got %d", len(batch))
	}

	longest := len(batch[1].InputIDs)
	for i, enc := range batch {
		if len(enc.InputIDs) != longest {
			t.Errorf("encoding %d: expected padded length %d, got %d", i, longest, len(enc.InputIDs))
		}
		if len(enc.AttentionMask) != longest || len(enc.TokenTypeIDs) != longest {
			t.Errorf("encoding %d: mask and type id lengths must match input ids", i)
		}
	}

	// "hello" is 3 real tokens; the rest of its row is padding.
	short := batch[0]
	for i := 0; i < short.Length; i++ {
		if short.AttentionMask[i] != 1 {
			t.Errorf("position %d: expected mask 1 for real token", i)
		}
	}
	for i := short.Length; i < longest; i++ {
		if short.AttentionMask[i] != 0 {
			t.Errorf("position %d: expected mask 0 for padding", i)
		}
		if short.InputIDs[i] != vocab[tokenPAD] {
			t.Errorf("position %d: expected [PAD] id, got %d", i, short.InputIDs[i])
		}
	}
}

func TestTokenizer_BasicTokenize(t *testing.T) {
	vocab := newTestVocab("hello", "world", ",", "!", "don", "'", "t")
	tokenizer, err := NewTokenizer(vocab, 32)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}

	enc := tokenizer.Encode("Hello, world! don't")
	// Punctuation splits into standalone tokens.
	expected := []string{"hello", ",", "world", "!", "don", "'", "t"}
	if len(enc.InputIDs) != len(expected)+2 {
		t.Fatalf("expected %d tokens, got %d", len(expected)+2, len(enc.InputIDs))
	}
	for i, word := range expected {
		if enc.InputIDs[i+1] != vocab[word] {
			t.Errorf("token %d: expected %q (id %d), got id %d", i, word, vocab[word], enc.InputIDs[i+1])
		}
	}
}

func TestNewTokenizer_Validation(t *testing.T) {
	t.Run("MissingSpecialToken", func(t *testing.T) {
		vocab := newTestVocab("hello")
		delete(vocab, tokenCLS)
		if _, err := NewTokenizer(vocab, 32); err == nil {
			t.Error("expected error for vocabulary without [CLS]")
		}
	})

	t.Run("MaxLengthTooSmall", func(t *testing.T) {
		if _, err := NewTokenizer(newTestVocab("hello"), 2); err == nil {
			t.Error("expected error for max length below 3")
		}
	})
}

func TestNewTokenizerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	content := "[PAD]\n[UNK]\n[CLS]\n[SEP]\nhello\nworld\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write vocab file: %v", err)
	}

	tokenizer, err := NewTokenizerFromFile(path, 32)
	if err != nil {
		t.Fatalf("failed to load tokenizer: %v", err)
	}

	enc := tokenizer.Encode("hello world")
	expected := []int64{2, 4, 5, 3}
	if len(enc.InputIDs) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(enc.InputIDs))
	}
	for i, id := range expected {
		if enc.InputIDs[i] != id {
			t.Errorf("token %d: expected id %d, got %d", i, id, enc.InputIDs[i])
		}
	}

	if _, err := NewTokenizerFromFile(filepath.Join(t.TempDir(), "missing.txt"), 32); err == nil {
		t.Error("expected error for missing vocabulary file")
	}
}
