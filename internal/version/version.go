// Package version reports the build the asset server was compiled from.
package version

import (
	"runtime/debug"
	"sync"
)

// Overridden with -ldflags "-X .../internal/version.Version=v1.2.3" at release time.
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the build identity exposed on /ping and by `assetd version`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
}

var readVCS = sync.OnceValue(func() Info {
	info := Info{Version: Version, Commit: CommitHash, BuildTime: BuildTime}
	if info.Commit != "" {
		return info
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.BuildTime = s.Value
		}
	}
	return info
})

// Get returns the build info, falling back to VCS stamps embedded by the toolchain.
func Get() Info {
	return readVCS()
}

// String renders "version (shortcommit)".
func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return i.Version + " (" + short + ")"
}
