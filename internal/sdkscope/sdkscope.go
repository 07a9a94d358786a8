// Package sdkscope decides which SDK section of the docs a URL path belongs to.
//
// Pages are laid out as /sdk/<name>/..., and SDK-specific blocks on shared
// pages only render when the current path is inside that SDK's section.
package sdkscope

import "strings"

// DefaultName is the SDK assumed when a caller does not name one.
const DefaultName = "angular"

const segment = "sdk"

// Includes reports whether urlPath is inside the /sdk/<name> section.
// An empty name means DefaultName.
func Includes(urlPath, name string) bool {
	if name == "" {
		name = DefaultName
	}
	return strings.Contains(urlPath, "/"+segment+"/"+name)
}

// Name returns the segment following the first "sdk" segment of urlPath,
// or "" when there is none.
func Name(urlPath string) string {
	segs := strings.Split(strings.Trim(urlPath, "/"), "/")
	for i := 0; i+1 < len(segs); i++ {
		if segs[i] == segment && segs[i+1] != "" {
			return segs[i+1]
		}
	}
	return ""
}
