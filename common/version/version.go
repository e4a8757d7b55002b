// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info formats the build metadata for the version command and /status.
func Info() string {
	return fmt.Sprintf("openhabot %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
