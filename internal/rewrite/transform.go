package rewrite

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-docs/internal/pathutil"
)

// DefaultRoot replaces an empty clean key.
const DefaultRoot = "sdk"

const (
	htmlExt   = ".html"
	indexName = "index"
	rootIndex = "index.html"
)

// CleanKey maps a slash-separated path relative to the build root to the key
// that serves it without an extension:
//
//	docs/guide.html  -> docs/guide/
//	docs/index.html  -> docs/
//
// ok is false for paths that are not rewritten: non-HTML files, the root
// index.html (it already serves the site root), absolute paths and paths
// with dot segments.
func CleanKey(rel, defaultRoot string) (key string, ok bool) {
	if !strings.HasSuffix(rel, htmlExt) || rel == rootIndex {
		return "", false
	}
	if strings.HasPrefix(rel, "/") || pathutil.HasDotSegments(rel) {
		return "", false
	}

	p := strings.TrimSuffix(rel, htmlExt)
	if p == indexName || strings.HasSuffix(p, "/"+indexName) {
		p = p[:len(p)-len(indexName)]
	}
	if p == "" {
		p = defaultRoot
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p, true
}
