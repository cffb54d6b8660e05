package extract

import (
	"bytes"
	"fmt"
	"strings"
)

// ErrClientRendered is a selector miss on a page whose content is built by
// JavaScript. It matches ErrNotFound.
var ErrClientRendered = fmt.Errorf("%w: page is rendered client-side", ErrNotFound)

// smallPageBytes bounds the pages checked for script density.
const smallPageBytes = 2048

var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ClientRendered reports whether body looks like a single-page-app shell: it
// carries a framework mount marker, or it is small and mostly script.
func ClientRendered(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < smallPageBytes && scriptShare(body) >= 25
}

// scriptShare is the percentage of body covered by <script> elements.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	covered, pos := 0, 0
	for {
		rel := strings.Index(lower[pos:], "<script")
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if gt := strings.IndexByte(lower[start:], '>'); gt != -1 {
			content := start + gt + 1
			if closeAt := strings.Index(lower[content:], "</script>"); closeAt != -1 {
				end = content + closeAt + len("</script>")
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
