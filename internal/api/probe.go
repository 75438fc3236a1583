package api

import (
	"context"
	"errors"

	"github.com/mulekit/anypoint-hub/internal/auth/token"
	"github.com/mulekit/anypoint-hub/internal/platform"
	"github.com/mulekit/anypoint-hub/internal/registry"
)

// NewStatusProbe builds the probe used by the status diagnostic: a cheap
// authenticated call through the active-account client. A 401 gets one
// refresh attempt; a working refresh means authenticated, a dead one means
// expired. Anything else (network, 5xx) is reported as error, not expired.
func NewStatusProbe(client *platform.Client, mgr *token.Manager) registry.ProbeFunc {
	return func(ctx context.Context, account registry.Account) registry.Status {
		_, err := client.Me(ctx)
		if err == nil {
			return registry.StatusAuthenticated
		}
		if !errors.Is(err, platform.ErrAuthenticationFailed) {
			return registry.StatusError
		}

		if ok, _ := mgr.Refresh(ctx, account.ID); ok {
			if _, err := client.Me(ctx); err == nil {
				return registry.StatusAuthenticated
			}
		}
		return registry.StatusExpired
	}
}
