// Package buildinfo holds the version of the tool binary, set through linker flags:
//
//	go build -ldflags "-X github.com/webstriiix/calculator-cli/build-tools/pkg/buildinfo.Version=0.1.0"
//
// Builds without ldflags fall back to the VCS stamp embedded by the go command.
package buildinfo

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "unknown" && len(setting.Value) >= 7 {
				Commit = setting.Value[:7]
			}
		case "vcs.time":
			if BuildDate == "unknown" {
				BuildDate = setting.Value
			}
		}
	}
}

// String returns the version line printed by `tool version`.
func String() string {
	return Version + " (commit " + Commit + ", built " + BuildDate + ")"
}
