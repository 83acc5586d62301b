// Package version reports which build of the updater is running
package version

import (
	"cmp"
	"runtime/debug"
)

// set with -ldflags "-X shinga/internal/core/version.version=v0.3.0"; commit and
// date fall back to the vcs stamp the go tool embeds
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// BuildInfo describes the running binary
type BuildInfo struct {
	Service  string `json:"service"`
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Date     string `json:"date"`
	Modified bool   `json:"modified,omitempty"`
}

// Info returns the build description
func Info() BuildInfo {
	bi := BuildInfo{Service: "shinga-updater", Version: version, Commit: commit, Date: date}
	if info, ok := debug.ReadBuildInfo(); ok {
		bi = fromSettings(bi, info.Settings)
	}
	bi.Commit = cmp.Or(bi.Commit, "unknown")
	bi.Date = cmp.Or(bi.Date, "unknown")
	return bi
}

func fromSettings(bi BuildInfo, settings []debug.BuildSetting) BuildInfo {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if bi.Commit == "" {
				bi.Commit = s.Value[:min(7, len(s.Value))]
			}
		case "vcs.time":
			if bi.Date == "" {
				bi.Date = s.Value
			}
		case "vcs.modified":
			bi.Modified = s.Value == "true"
		}
	}
	return bi
}
