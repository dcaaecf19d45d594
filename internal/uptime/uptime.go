// Package uptime mirrors monitors from third-party uptime providers
// (UptimeRobot, Checkly) and feeds their status transitions into alert
// ingest. Each provider client wraps its HTTP calls in a circuit breaker so
// a flapping provider API stops consuming sync cycles until it recovers.
package uptime

import (
	"context"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

const (
	ProviderTypeUptimeRobot = "uptimerobot"
	ProviderTypeCheckly     = "checkly"
)

// External monitor status values as stored.
const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusDegraded = "degraded"
	StatusPaused   = "paused"
	StatusUnknown  = "unknown"
)

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// SplitChecklyCredentials splits the stored "API_KEY:ACCOUNT_ID" form at the
// last colon; Checkly API keys may themselves contain colons, account ids
// never do.
func SplitChecklyCredentials(combined string) (apiKey, accountID string, ok bool) {
	idx := strings.LastIndex(combined, ":")
	if idx <= 0 || idx == len(combined)-1 {
		return "", "", false
	}
	return combined[:idx], combined[idx+1:], true
}

// VerifyCredentials checks provider credentials against the provider's API
// before they are stored.
func VerifyCredentials(ctx context.Context, providerType, apiKey string) error {
	switch providerType {
	case ProviderTypeUptimeRobot:
		_, err := NewUptimeRobotClient(apiKey).GetAccountDetails(ctx)
		return apperr.Wrap(apperr.BadRequest, "invalid uptimerobot api key", err)
	case ProviderTypeCheckly:
		key, account, ok := SplitChecklyCredentials(apiKey)
		if !ok {
			return apperr.New(apperr.BadRequest, "checkly credentials must be 'API_KEY:ACCOUNT_ID'")
		}
		err := NewChecklyClient(key, account).ValidateCredentials(ctx)
		return apperr.Wrap(apperr.BadRequest, "invalid checkly credentials", err)
	default:
		return apperr.Newf(apperr.BadRequest, "unsupported provider type '%s'", providerType)
	}
}
