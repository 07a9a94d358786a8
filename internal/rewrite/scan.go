package rewrite

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// DefaultExcludes skips the generator's asset directories, editor litter and
// every non-HTML extension it is known to emit.
var DefaultExcludes = []string{
	"assets",
	"img",
	"images",
	".DS_Store",
	"*.txt",
	"*.js",
	"*.map",
	"*.css",
}

// FileEntry is one file discovered under the build root.
type FileEntry struct {
	// Path is the OS path as found by the walk (root joined with Rel).
	Path string
	// Rel is slash-separated and relative to the build root.
	Rel string
}

// ValidatePatterns reports the first malformed glob in patterns.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if p == "" {
			return xerrors.New("empty exclusion pattern")
		}
		if _, err := path.Match(p, ""); err != nil {
			return xerrors.Wrapf(err, "exclusion pattern %q", p)
		}
	}
	return nil
}

// Excluded reports whether a single path element matches any pattern.
// A pattern is an exact name, a path.Match glob, or a literal ".ext" suffix,
// so ".png" excludes image.png as well as a file named .png.
// Malformed patterns never match; use ValidatePatterns up front.
func Excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if p == name || isSuffixPattern(p) && strings.HasSuffix(name, p) {
			return true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func isSuffixPattern(p string) bool {
	return len(p) > 1 && p[0] == '.' && !strings.ContainsAny(p, `*?[\/`)
}

// Scan walks root and returns every file whose path elements all miss the
// exclusion patterns. An excluded directory is not descended into.
// Any walk failure, including an unreadable root, is an *EnumerationError.
func Scan(ctx context.Context, root string, excludes []string) ([]FileEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &EnumerationError{Root: root, Err: xerrors.WithStack(err)}
	}
	if !info.IsDir() {
		return nil, &EnumerationError{Root: root, Err: xerrors.New("not a directory")}
	}

	var out []FileEntry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if Excluded(d.Name(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, FileEntry{Path: p, Rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, &EnumerationError{Root: root, Err: xerrors.WithStack(err)}
	}
	return out, nil
}
