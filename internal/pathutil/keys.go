// Package pathutil holds helpers for slash-separated object keys. Keys are
// never cleaned with path.Clean: a trailing "/" is significant in S3 (it is
// what makes docs/guide/ a directory-style key) and Clean would drop it.
package pathutil

import "strings"

// HasDotSegments reports whether any segment of p is "." or "..".
func HasDotSegments(p string) bool {
	for seg := range strings.SplitSeq(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// JoinKey appends rel to prefix with exactly one "/" between them, keeping
// any trailing "/" on rel. An empty prefix returns rel without its leading
// slashes.
func JoinKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	rel = strings.TrimLeft(rel, "/")
	switch {
	case prefix == "":
		return rel
	case rel == "":
		return prefix + "/"
	}
	return prefix + "/" + rel
}
