// Package version carries build metadata injected with -ldflags "-X".
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("balancewatch %s (commit %s, built %s)", Version, Commit, BuildDate)
}

// UserAgent is the default User-Agent for outgoing HTTP requests.
func UserAgent() string {
	return "balancewatch/" + Version
}
