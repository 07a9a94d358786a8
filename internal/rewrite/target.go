package rewrite

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-docs/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// Target is the bucket and key prefix the generated site was uploaded to.
type Target struct {
	Bucket string
	Prefix string
}

// ParseTarget accepts "s3://bucket/prefix/", "bucket/prefix" or "bucket".
// Leading and trailing slashes on the prefix are dropped.
func ParseTarget(s string) (Target, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "s3://")
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return Target{}, xerrors.Newf("invalid target %q: bucket is empty", s)
	}
	bucket, prefix, _ := strings.Cut(raw, "/")
	if strings.ContainsAny(bucket, " \t") {
		return Target{}, xerrors.Newf("invalid target %q: bucket contains whitespace", s)
	}
	return Target{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

// Key joins rel onto the target prefix.
func (t Target) Key(rel string) string { return pathutil.JoinKey(t.Prefix, rel) }

func (t Target) String() string {
	if t.Prefix == "" {
		return "s3://" + t.Bucket + "/"
	}
	return "s3://" + t.Bucket + "/" + t.Prefix + "/"
}

// Destination is where a clean key gets written.
type Destination struct {
	Bucket string
	Key    string
}

// Router maps a clean key to its destination. Bucket routing differs between
// deployments, so it is injected rather than hard-coded in the dispatcher.
type Router func(cleanKey string) Destination

// SameTarget writes every clean key next to its source object.
func SameTarget(t Target) Router {
	return func(cleanKey string) Destination {
		return Destination{Bucket: t.Bucket, Key: t.Key(cleanKey)}
	}
}

// StripPrefixForRoot behaves like SameTarget except for the site root: when
// the clean key is "<defaultRoot>/" and the target prefix ends in
// defaultRoot, that trailing segment is dropped from the prefix so the root
// page lands on the prefix's own directory key (s3://bucket/sdk/ rather
// than s3://bucket/sdk/sdk/).
func StripPrefixForRoot(t Target, defaultRoot string) Router {
	same := SameTarget(t)
	rootKey := defaultRoot + "/"
	return func(cleanKey string) Destination {
		if cleanKey != rootKey {
			return same(cleanKey)
		}
		parent := strings.TrimPrefix(strings.TrimSuffix("/"+t.Prefix, "/"+defaultRoot), "/")
		return Destination{Bucket: t.Bucket, Key: Target{Bucket: t.Bucket, Prefix: parent}.Key(cleanKey)}
	}
}

// RouterFor returns the named routing policy. Names are "same" and "strip-prefix".
func RouterFor(name string, t Target, defaultRoot string) (Router, error) {
	switch name {
	case "", RoutingSame:
		return SameTarget(t), nil
	case RoutingStripPrefix:
		return StripPrefixForRoot(t, defaultRoot), nil
	default:
		return nil, xerrors.Newf("unknown root routing %q (valid: %s|%s)", name, RoutingSame, RoutingStripPrefix)
	}
}

const (
	RoutingSame        = "same"
	RoutingStripPrefix = "strip-prefix"
)
