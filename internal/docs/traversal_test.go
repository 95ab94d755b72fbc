package docs

import (
	"testing"
)

// buildTree builds the tree used across traversal tests: one root with three
// chunks, the first chunk having two chunks of its own.
func buildTree() []*Document {
	root := NewDocument("root1", "blah")
	c1 := root.AddChunk(NewDocument("chunk11", "blah"))
	root.AddChunk(NewDocument("chunk12", "blah"))
	root.AddChunk(NewDocument("chunk13", "blah"))
	c1.AddChunk(NewDocument("chunk111", "blah"))
	c1.AddChunk(NewDocument("chunk112", "blah"))
	return []*Document{root}
}

func TestParseTraversalPaths(t *testing.T) {
	cases := []struct {
		expr   string
		depths []int
		ok     bool
	}{
		{"@r", []int{0}, true},
		{"@c", []int{1}, true},
		{"@cc", []int{2}, true},
		{"@cc,r", []int{2, 0}, true},
		{"r,c", []int{0, 1}, true},
		{"@r,@c", []int{0, 1}, true},
		{"@r,r", []int{0}, true},
		{"ccc", []int{3}, true},
		{"", nil, false},
		{"@", nil, false},
		{"@x", nil, false},
		{"@rc", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			paths, err := ParseTraversalPaths(tc.expr)
			if tc.ok && err != nil {
				t.Fatalf("ParseTraversalPaths(%q) failed: %v", tc.expr, err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("ParseTraversalPaths(%q) should fail", tc.expr)
				}
				return
			}
			if len(paths) != len(tc.depths) {
				t.Fatalf("expected depths %v, got %v", tc.depths, paths)
			}
			for i, depth := range tc.depths {
				if paths[i] != depth {
					t.Errorf("depth %d: expected %d, got %d", i, depth, paths[i])
				}
			}
		})
	}
}

func TestSelect(t *testing.T) {
	roots := buildTree()

	cases := []struct {
		expr string
		ids  []string
	}{
		{"@r", []string{"root1"}},
		{"@c", []string{"chunk11", "chunk12", "chunk13"}},
		{"@cc", []string{"chunk111", "chunk112"}},
		{"@cc,r", []string{"chunk111", "chunk112", "root1"}},
		{"@ccc", nil},
	}

	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			paths, err := ParseTraversalPaths(tc.expr)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			selected := paths.Select(roots)
			if len(selected) != len(tc.ids) {
				t.Fatalf("expected %d documents, got %d", len(tc.ids), len(selected))
			}
			for i, id := range tc.ids {
				if selected[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, selected[i].ID)
				}
			}
		})
	}
}

func TestAtDepth_NegativeDepth(t *testing.T) {
	if got := AtDepth(buildTree(), -1); got != nil {
		t.Errorf("negative depth should select nothing, got %d documents", len(got))
	}
}
