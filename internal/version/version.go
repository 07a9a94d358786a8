// Package version reports build metadata. Values are injected with
// -ldflags "-X .../internal/version.Version=..." and filled from the Go
// build info where ldflags left them unset.
package version

import "runtime/debug"

const AppName = "docs-rewrite"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
)

type Info struct {
	AppName    string `json:"app_name"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		AppName:    AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			dirty := s.Value == "true"
			out.VCSDirty = &dirty
		}
	}
	return out
}

// Dirty renders VCSDirty for labels: "true", "false" or "unknown".
func (i Info) Dirty() string {
	switch {
	case i.VCSDirty == nil:
		return "unknown"
	case *i.VCSDirty:
		return "true"
	default:
		return "false"
	}
}
