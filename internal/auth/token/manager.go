// Package token renews access tokens non-interactively from stored refresh
// tokens and classifies failures into "log in again" versus "retry later".
package token

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/mulekit/anypoint-hub/internal/auth/anypoint"
	"github.com/mulekit/anypoint-hub/internal/registry"
	"github.com/mulekit/anypoint-hub/internal/secrets"
	"github.com/mulekit/anypoint-hub/internal/util"
	"golang.org/x/oauth2"
)

// User-facing outcome messages. Callers surface these verbatim and must
// treat ok=false as "stop and ask the user", never as "retry in a loop".
const (
	MsgNoRefreshToken = "No refresh token found. Please log in again."
	MsgSessionExpired = "Your session has expired. Please log in again."
	MsgTransient      = "Token refresh failed. Please try again."
	MsgRefreshed      = "Access token refreshed."
)

// Manager is the token refresh controller.
type Manager struct {
	cfg      anypoint.Config
	store    secrets.Store
	registry *registry.Registry
}

// NewManager builds a refresh controller over the given store and registry.
func NewManager(cfg anypoint.Config, store secrets.Store, reg *registry.Registry) *Manager {
	return &Manager{cfg: cfg, store: store, registry: reg}
}

// refreshScope is the credential slot a refresh operates on: a specific
// account, or the legacy unscoped slot when accountID is empty.
type refreshScope struct {
	accountID string
}

func (s refreshScope) key(field string) string {
	if s.accountID == "" {
		return secrets.LegacyKey(field)
	}
	return secrets.AccountKey(s.accountID, field)
}

// resolve picks the refresh scope: explicit account id, else the active
// account, else the legacy slot.
func (m *Manager) resolve(ctx context.Context, accountID string) (refreshScope, error) {
	if accountID != "" {
		if _, err := m.registry.Get(ctx, accountID); err != nil {
			return refreshScope{}, err
		}
		return refreshScope{accountID: accountID}, nil
	}
	active, err := m.registry.Active(ctx)
	if err != nil {
		return refreshScope{}, err
	}
	if active != nil {
		return refreshScope{accountID: active.ID}, nil
	}
	return refreshScope{}, nil
}

// Refresh exchanges the stored refresh token of the resolved scope for a new
// access token, overwriting that scope's tokens in place. An HTTP 400/401
// from the token endpoint means the refresh token itself is dead: the
// account is demoted to expired and the caller should prompt for a re-login.
// Any other failure is reported as transient and leaves status untouched.
func (m *Manager) Refresh(ctx context.Context, accountID string) (bool, string) {
	scope, err := m.resolve(ctx, accountID)
	if err != nil {
		log.Printf("[token] refresh scope resolution failed: %v", err)
		return false, MsgTransient
	}

	refreshToken, err := m.store.Get(ctx, scope.key(secrets.FieldRefreshToken))
	if err != nil {
		log.Printf("[token] read refresh token: %v", err)
		return false, MsgTransient
	}
	if refreshToken == "" {
		log.Printf("[token] no refresh token for scope %q", scope.accountID)
		return false, MsgNoRefreshToken
	}

	source := m.cfg.OAuth2().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := source.Token()
	if err != nil {
		if isRejectedRefreshToken(err) {
			log.Printf("[token] refresh token rejected for scope %q: %v", scope.accountID, err)
			if scope.accountID != "" {
				if uerr := m.registry.UpdateStatus(ctx, scope.accountID, registry.StatusExpired); uerr != nil {
					log.Printf("[token] mark %s expired: %v", scope.accountID, uerr)
				}
			}
			return false, MsgSessionExpired
		}
		log.Printf("[token] transient refresh failure for scope %q: %v", scope.accountID, err)
		return false, MsgTransient
	}

	if err := m.store.Set(ctx, scope.key(secrets.FieldAccessToken), newToken.AccessToken); err != nil {
		log.Printf("[token] store refreshed access token: %v", err)
		return false, MsgTransient
	}
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		log.Printf("[token] refresh token rotated for scope %q", scope.accountID)
		if err := m.store.Set(ctx, scope.key(secrets.FieldRefreshToken), newToken.RefreshToken); err != nil {
			log.Printf("[token] store rotated refresh token: %v", err)
			return false, MsgTransient
		}
	}

	if scope.accountID != "" {
		if err := m.registry.UpdateStatus(ctx, scope.accountID, registry.StatusAuthenticated); err != nil {
			log.Printf("[token] mark %s authenticated: %v", scope.accountID, err)
		}
	}

	log.Printf("[token] refreshed token for scope %q (%s)", scope.accountID, util.MaskToken(newToken.AccessToken))
	return true, MsgRefreshed
}

// isRejectedRefreshToken reports whether the token endpoint rejected the
// refresh token itself (400/401), as opposed to a transient failure.
func isRejectedRefreshToken(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) || retrieveErr.Response == nil {
		return false
	}
	code := retrieveErr.Response.StatusCode
	return code == http.StatusBadRequest || code == http.StatusUnauthorized
}
