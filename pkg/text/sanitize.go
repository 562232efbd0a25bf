package text

// WrapSlackContent marks workspace-originated text so downstream consumers
// can tell quoted Slack content apart from tool output. Empty strings pass
// through unchanged.
func WrapSlackContent(s string) string {
	if s == "" {
		return s
	}
	return "[SLACK_CONTENT]" + s + "[/SLACK_CONTENT]"
}
