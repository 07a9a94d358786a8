package sidebar

import (
	"path/filepath"
	"strings"

	"github.com/keithlinneman/linnemanlabs-docs/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// filePrefix marks per-section sidebar files: sidebars-<base>.js
const filePrefix = "sidebars-"

// Source is a sidebar file and the route base its doc ids live under.
type Source struct {
	Base string
	Path string
}

// ParseSource reads "base=path" or a bare path. A bare sidebars-<name>.<ext>
// gets <name> as its base, any other bare path gets the build root. An
// explicit empty base ("=sidebars-android.js") also means the root.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	var src Source
	if base, p, ok := strings.Cut(s, "="); ok {
		src = Source{Base: strings.Trim(base, "/"), Path: p}
	} else {
		src = Source{Base: BaseFromFilename(s), Path: s}
	}
	if src.Path == "" {
		return Source{}, xerrors.Newf("sidebar source %q: empty path", s)
	}
	if pathutil.HasDotSegments(src.Base) {
		return Source{}, xerrors.Newf("sidebar source %q: invalid base %q", s, src.Base)
	}
	return src, nil
}

// BaseFromFilename returns <name> for sidebars-<name>.<ext>, else "".
func BaseFromFilename(p string) string {
	name := filepath.Base(p)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(name, filePrefix) {
		return ""
	}
	return strings.TrimPrefix(name, filePrefix)
}

// LoadSource loads src.Path and stamps every sidebar with src.Base.
func LoadSource(src Source) ([]Sidebar, error) {
	sbs, err := Load(src.Path)
	if err != nil {
		return nil, err
	}
	for i := range sbs {
		sbs[i].Base = src.Base
	}
	return sbs, nil
}
