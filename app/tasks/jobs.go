package tasks

import (
	"context"
	"time"

	"github.com/jobfeed/jobfeed/app/auth"
)

const (
	DenylistRefreshInterval = 30 * time.Minute
	TokenRefreshInterval    = 30 * time.Minute

	// rotationThreshold is how close to expiry the public token may get
	// before it is replaced. Generous, so consumers reading the published
	// token have time to pick up the new one.
	rotationThreshold = 14 * 24 * time.Hour
)

// DenylistRefresh keeps the in-memory token denylist in sync with the store.
// Every instance runs it.
func DenylistRefresh(tokens *auth.TokenService) Periodic {
	return Periodic{
		Name:       "denylist-refresh",
		Interval:   DenylistRefreshInterval,
		RunAtStart: true,
		Fn:         tokens.RefreshDenylist,
	}
}

// PublicTokenRefresh rotates the shared public token before it expires. Only
// the elected leader rotates; followers skip the tick.
func PublicTokenRefresh(tokens *auth.TokenService, elector *LeaderElector) Periodic {
	return Periodic{
		Name:     "public-token-refresh",
		Interval: TokenRefreshInterval,
		Fn: func(ctx context.Context) error {
			if !elector.IsLeader(ctx) {
				return nil
			}
			_, err := tokens.RotatePublicTokenIfExpiring(ctx, rotationThreshold)
			return err
		},
	}
}
