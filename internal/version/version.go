package version

import "runtime/debug"

// AppName is the name reported in logs, metrics and -V output.
const AppName = "basicweb"

// set via -ldflags "-X github.com/keithlinneman/basicweb/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate string
	BuildId   string
)

type Info struct {
	AppName    string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get merges ldflags values with what the toolchain stamped into the binary.
// ldflags win when set.
func Get() Info {
	out := Info{
		AppName:   AppName,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		BuildId:   BuildId,
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
			out.CommitDate = s.Value
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

// Short is the one-line form printed by -V.
func (i Info) Short() string {
	dirty := "unknown"
	if i.VCSDirty != nil {
		dirty = "false"
		if *i.VCSDirty {
			dirty = "true"
		}
	}
	return i.AppName + " " + i.Version +
		" (commit=" + i.Commit +
		", build_date=" + i.BuildDate +
		", go=" + i.GoVersion +
		", dirty=" + dirty + ")"
}
