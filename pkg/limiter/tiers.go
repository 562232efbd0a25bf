package limiter

import (
	"golang.org/x/time/rate"
)

// Tier is a Slack Web API rate limit tier, expressed in requests per minute.
// See https://api.slack.com/docs/rate-limits.
type Tier float64

const (
	Tier1 Tier = 1
	Tier2 Tier = 20
	Tier3 Tier = 50
	Tier4 Tier = 100
)

// Limiter returns a token bucket for the tier. The burst equals one minute's
// budget so paging loops start immediately and settle into the steady rate.
func (t Tier) Limiter() *rate.Limiter {
	burst := int(t)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(t)/60.0, burst)
}
