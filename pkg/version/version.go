// Package version derives the application version from build metadata:
// an -ldflags override wins, then the VCS revision from debug.BuildInfo,
// then "dev".
package version

import "runtime/debug"

// AppName appears in version strings and protocol handshakes.
const AppName = "tarsy"

// gitCommitOverride is injected with -ldflags for container builds where
// .git is unavailable.
var gitCommitOverride string

// GitCommit is the short (8 char) commit hash, or "dev" when no build
// info is available, as under `go test` or non-git builds.
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "tarsy/<commit>" for user-agent strings and logs.
func Full() string {
	return AppName + "/" + GitCommit
}
