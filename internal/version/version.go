// Package version holds build identity, overridden at link time:
//
//	go build -ldflags "-X github.com/opencurate/ferry/internal/version.Version=v1.0.0"
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
