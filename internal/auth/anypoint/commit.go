package anypoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mulekit/anypoint-hub/internal/platform"
	"github.com/mulekit/anypoint-hub/internal/registry"
	"github.com/mulekit/anypoint-hub/internal/secrets"
)

// ErrNoStagedLogin means CommitStaged was called without a prior staged
// exchange (Begin with addNewAccount).
var ErrNoStagedLogin = errors.New("no staged login to commit")

// CommitStaged turns a staged token pair into a permanent active account:
// the staged token is validated by fetching the owning identity, the account
// is upserted by organization, the tokens and profile move into the
// account's namespaced keys, and the staging slots are cleared. Environments
// are fetched best-effort; a failure there does not fail the commit.
func (l *LoginController) CommitStaged(ctx context.Context) (*registry.Account, error) {
	accessToken, err := l.store.Get(ctx, secrets.KeyTempAccessToken)
	if err != nil {
		return nil, fmt.Errorf("read staged access token: %w", err)
	}
	if accessToken == "" {
		return nil, ErrNoStagedLogin
	}
	refreshToken, err := l.store.Get(ctx, secrets.KeyTempRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("read staged refresh token: %w", err)
	}

	client := platform.NewClient(l.baseURL, platform.StaticToken(accessToken))
	profile, err := client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("validate staged login: %w", err)
	}
	if profile.Organization.ID == "" {
		return nil, errors.New("staged identity has no organization")
	}

	now := time.Now()
	account := registry.Account{
		ID:               registry.NewAccountID(profile.Organization.ID, now),
		OrganizationID:   profile.Organization.ID,
		OrganizationName: profile.Organization.Name,
		UserEmail:        profile.Email,
		UserName:         profile.Username,
		IsActive:         true,
		Status:           registry.StatusAuthenticated,
		LastUsed:         now,
		Region:           l.regionID,
	}

	// A re-login for an organization we already track keeps the existing id,
	// so its namespaced keys stay reachable.
	existing, err := l.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, acc := range existing {
		if acc.OrganizationID == account.OrganizationID {
			account.ID = acc.ID
			break
		}
	}

	if err := l.store.Set(ctx, secrets.AccountKey(account.ID, secrets.FieldAccessToken), accessToken); err != nil {
		return nil, err
	}
	if refreshToken != "" {
		if err := l.store.Set(ctx, secrets.AccountKey(account.ID, secrets.FieldRefreshToken), refreshToken); err != nil {
			return nil, err
		}
	}

	rawProfile, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("serialize profile: %w", err)
	}
	if err := l.store.Set(ctx, secrets.AccountKey(account.ID, secrets.FieldUserInfo), string(rawProfile)); err != nil {
		return nil, err
	}

	if environments, err := client.Environments(ctx, account.OrganizationID); err != nil {
		log.Printf("[oauth] environments fetch for %s failed, deferring: %v", account.OrganizationID, err)
	} else if raw, err := json.Marshal(environments); err == nil {
		if err := l.store.Set(ctx, secrets.AccountKey(account.ID, secrets.FieldEnvironments), string(raw)); err != nil {
			return nil, err
		}
	}

	if err := l.registry.Add(ctx, account); err != nil {
		return nil, err
	}

	if err := l.store.Delete(ctx, secrets.KeyTempAccessToken); err != nil {
		return nil, err
	}
	if err := l.store.Delete(ctx, secrets.KeyTempRefreshToken); err != nil {
		return nil, err
	}

	log.Printf("[oauth] committed staged login as account %s (%s)", account.ID, account.OrganizationName)
	return &account, nil
}
