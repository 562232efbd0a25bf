package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const DefaultCacheTTL = time.Hour

// Config carries the full environment-driven configuration. Policy fields
// (AddMessageTool, ReactionTool) keep their raw string form; see
// IsChannelAllowed for the grammar.
type Config struct {
	Token      string
	IsBotToken bool
	XoxdCookie string

	LogLevel string

	AddMessageTool      string
	ReactionTool        string
	AttachmentTool      string
	AddMessageMark      bool
	AddMessageUnfurling string

	CacheTTL          time.Duration
	UsersCachePath    string
	ChannelsCachePath string

	Proxy        string
	EnabledTools []string
}

// Load reads configuration from the environment. Exactly one auth mode must
// be configured: SLACK_MCP_XOXP_TOKEN (user), SLACK_MCP_XOXB_TOKEN (bot) or
// SLACK_MCP_XOXC_TOKEN together with SLACK_MCP_XOXD_TOKEN (browser session).
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:            strings.ToLower(getEnv("SLACK_MCP_LOG_LEVEL", "info")),
		AddMessageTool:      os.Getenv("SLACK_MCP_ADD_MESSAGE_TOOL"),
		ReactionTool:        os.Getenv("SLACK_MCP_REACTION_TOOL"),
		AttachmentTool:      os.Getenv("SLACK_MCP_ATTACHMENT_TOOL"),
		AddMessageUnfurling: os.Getenv("SLACK_MCP_ADD_MESSAGE_UNFURLING"),
		Proxy:               os.Getenv("SLACK_MCP_PROXY"),
		CacheTTL:            ParseCacheTTL(os.Getenv("SLACK_MCP_CACHE_TTL")),
	}

	xoxp := os.Getenv("SLACK_MCP_XOXP_TOKEN")
	xoxb := os.Getenv("SLACK_MCP_XOXB_TOKEN")
	xoxc := os.Getenv("SLACK_MCP_XOXC_TOKEN")
	xoxd := os.Getenv("SLACK_MCP_XOXD_TOKEN")

	switch {
	case xoxp != "":
		cfg.Token = xoxp
	case xoxb != "":
		cfg.Token = xoxb
		cfg.IsBotToken = true
	case xoxc != "" && xoxd != "":
		cfg.Token = xoxc
		cfg.XoxdCookie = xoxd
	case xoxc != "" || xoxd != "":
		return nil, fmt.Errorf("SLACK_MCP_XOXC_TOKEN and SLACK_MCP_XOXD_TOKEN must both be set for cookie auth")
	default:
		return nil, fmt.Errorf("set SLACK_MCP_XOXP_TOKEN, SLACK_MCP_XOXB_TOKEN, or both SLACK_MCP_XOXC_TOKEN and SLACK_MCP_XOXD_TOKEN")
	}

	if err := ValidateToolConfig(cfg.AddMessageTool, "SLACK_MCP_ADD_MESSAGE_TOOL"); err != nil {
		return nil, err
	}
	if err := ValidateToolConfig(cfg.ReactionTool, "SLACK_MCP_REACTION_TOOL"); err != nil {
		return nil, err
	}

	switch os.Getenv("SLACK_MCP_ADD_MESSAGE_MARK") {
	case "true", "1", "yes":
		cfg.AddMessageMark = true
	}

	cacheDir := cacheDir()
	cfg.UsersCachePath = getEnv("SLACK_MCP_USERS_CACHE", defaultCachePath(cacheDir, "users_cache.json"))
	cfg.ChannelsCachePath = getEnv("SLACK_MCP_CHANNELS_CACHE", defaultCachePath(cacheDir, "channels_cache.json"))

	if raw := os.Getenv("SLACK_MCP_ENABLED_TOOLS"); raw != "" {
		for _, tool := range strings.Split(raw, ",") {
			if tool = strings.TrimSpace(tool); tool != "" {
				cfg.EnabledTools = append(cfg.EnabledTools, tool)
			}
		}
	}

	return cfg, nil
}

// ValidateToolConfig rejects policy strings that mix allowed and !-negated
// channels; the allow/deny semantics of such a list would be ambiguous.
func ValidateToolConfig(policy, envName string) error {
	if policy == "" || policy == "true" || policy == "1" {
		return nil
	}

	var hasNegated, hasPositive bool
	for _, item := range strings.Split(policy, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.HasPrefix(item, "!") {
			hasNegated = true
		} else {
			hasPositive = true
		}
	}

	if hasNegated && hasPositive {
		return fmt.Errorf("%s: cannot mix allowed and disallowed (! prefixed) channels", envName)
	}
	return nil
}

// IsChannelAllowed evaluates a channel policy string. "" , "true" and "1"
// allow everything; otherwise the policy is a comma separated channel list,
// acting as a deny list when the first item is !-prefixed and as an allow
// list otherwise.
func IsChannelAllowed(channelID, policy string) bool {
	if policy == "" || policy == "true" || policy == "1" {
		return true
	}

	items := strings.Split(policy, ",")
	isNegated := strings.HasPrefix(strings.TrimSpace(items[0]), "!")

	for _, item := range items {
		item = strings.TrimSpace(item)
		if isNegated {
			if strings.TrimLeft(item, "!") == channelID {
				return false
			}
		} else {
			if item == channelID {
				return true
			}
		}
	}

	return isNegated
}

// ParseCacheTTL accepts plain seconds ("7200") or a short duration form
// ("1h", "30m", "3600s"). Zero means snapshots never expire; unparseable
// values fall back to the default.
func ParseCacheTTL(val string) time.Duration {
	if val == "" {
		return DefaultCacheTTL
	}

	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second
	}

	if len(val) > 1 {
		if n, err := strconv.Atoi(val[:len(val)-1]); err == nil {
			switch val[len(val)-1] {
			case 'h':
				return time.Duration(n) * time.Hour
			case 'm':
				return time.Duration(n) * time.Minute
			case 's':
				return time.Duration(n) * time.Second
			}
		}
	}

	return DefaultCacheTTL
}

func cacheDir() string {
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheHome = filepath.Join(home, ".cache")
	}

	dir := filepath.Join(cacheHome, "slack-fast-mcp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return dir
}

func defaultCachePath(dir, file string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, file)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
