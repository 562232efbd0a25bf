package provider

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/rusq/slackdump/v4/auth"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/slackfast/slack-fast-mcp/pkg/config"
)

// newSlackClient builds the slack-go client for the configured auth mode.
// xoxp/xoxb tokens authenticate via the Authorization header alone; xoxc
// tokens additionally need the browser session cookies on every request.
func newSlackClient(cfg *config.Config, logger *zap.Logger) (*slack.Client, error) {
	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.XoxdCookie != "" {
		creds, err := auth.NewValueAuth(cfg.Token, cfg.XoxdCookie)
		if err != nil {
			return nil, fmt.Errorf("building cookie credentials: %w", err)
		}

		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		slackURL, err := url.Parse("https://slack.com")
		if err != nil {
			return nil, err
		}

		jar.SetCookies(slackURL, creds.Cookies())
		httpClient.Jar = jar

		logger.Debug("Using browser session cookie auth")
	}

	return slack.New(cfg.Token, slack.OptionHTTPClient(httpClient)), nil
}

func newHTTPClient(cfg *config.Config) (*http.Client, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.Proxy, err)
		}

		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("building proxy dialer: %w", err)
		}

		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	}

	return &http.Client{Transport: transport}, nil
}
