package docs

import (
	"fmt"
	"strings"
)

// TraversalPaths is a parsed traversal expression: the set of tree depths to
// select. Depth 0 is the root level (`r`), depth 1 direct chunks (`c`),
// depth 2 chunks of chunks (`cc`), and so on.
type TraversalPaths []int

// ParseTraversalPaths parses a comma-separated traversal expression such as
// "@r", "@c,cc" or "@cc,r". The leading "@" is optional and applies to the
// whole expression, so "@cc,r" selects grandchildren and roots.
func ParseTraversalPaths(expr string) (TraversalPaths, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "@")
	if expr == "" {
		return nil, fmt.Errorf("empty traversal expression")
	}

	seen := make(map[int]bool)
	var paths TraversalPaths
	for _, segment := range strings.Split(expr, ",") {
		segment = strings.TrimSpace(segment)
		segment = strings.TrimPrefix(segment, "@")

		depth, err := parseSegment(segment)
		if err != nil {
			return nil, err
		}
		if !seen[depth] {
			seen[depth] = true
			paths = append(paths, depth)
		}
	}
	return paths, nil
}

// parseSegment maps "r" to depth 0 and a run of 'c's to its length.
func parseSegment(segment string) (int, error) {
	if segment == "r" {
		return 0, nil
	}
	if segment == "" || strings.Count(segment, "c") != len(segment) {
		return 0, fmt.Errorf("invalid traversal segment %q", segment)
	}
	return len(segment), nil
}

// Select returns the documents of the trees rooted at roots matched by the
// traversal paths, in document order per path. Documents are never selected
// twice even if paths repeat.
func (p TraversalPaths) Select(roots []*Document) []*Document {
	var selected []*Document
	for _, depth := range p {
		selected = append(selected, AtDepth(roots, depth)...)
	}
	return selected
}
