// Package version holds build metadata, overridable at link time:
//
//	go build -ldflags "-X github.com/slackfast/slack-fast-mcp/pkg/version.Version=v1.2.3"
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
