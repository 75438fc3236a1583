package registry

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/mulekit/anypoint-hub/internal/secrets"
)

// MigrationResult reports the outcome of a legacy-bundle migration attempt.
// Exactly one of Migrated/Reason/Error carries the interesting part.
type MigrationResult struct {
	Migrated  bool   `json:"migrated"`
	AccountID string `json:"accountId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// legacyUserInfo is the serialized profile the pre-multi-account versions
// stored under the unscoped userInfo key.
type legacyUserInfo struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Organization struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"organization"`
}

// MigrateLegacy promotes the unscoped pre-multi-account credential bundle
// into a first-class account. Idempotent: a non-empty registry always wins
// and makes this a no-op, even when the legacy data is newer. The legacy
// keys are copied, not deleted, so older versions sharing the store keep
// working. Never panics past its own boundary; failures land in the result.
func (r *Registry) MigrateLegacy(ctx context.Context) MigrationResult {
	existing, err := r.List(ctx)
	if err != nil {
		return MigrationResult{Error: "read registry: " + err.Error()}
	}
	if len(existing) > 0 {
		return MigrationResult{Reason: "multi-account registry already populated"}
	}

	accessToken, err := r.store.Get(ctx, secrets.LegacyKey(secrets.FieldAccessToken))
	if err != nil {
		return MigrationResult{Error: "read legacy access token: " + err.Error()}
	}
	rawInfo, err := r.store.Get(ctx, secrets.LegacyKey(secrets.FieldUserInfo))
	if err != nil {
		return MigrationResult{Error: "read legacy user info: " + err.Error()}
	}
	if accessToken == "" || rawInfo == "" {
		return MigrationResult{Reason: "no legacy credentials found"}
	}

	var info legacyUserInfo
	if err := json.Unmarshal([]byte(rawInfo), &info); err != nil {
		return MigrationResult{Error: "parse legacy user info: " + err.Error()}
	}
	if info.Organization.ID == "" {
		return MigrationResult{Error: "legacy user info has no organization id"}
	}

	account := Account{
		ID:               NewAccountID(info.Organization.ID, r.now()),
		OrganizationID:   info.Organization.ID,
		OrganizationName: info.Organization.Name,
		UserEmail:        info.Email,
		UserName:         displayName(info),
		IsActive:         true,
		Status:           StatusAuthenticated,
		LastUsed:         r.now(),
	}

	for _, field := range secrets.BundleFields {
		value, err := r.store.Get(ctx, secrets.LegacyKey(field))
		if err != nil {
			return MigrationResult{Error: "read legacy " + field + ": " + err.Error()}
		}
		if value == "" {
			continue
		}
		if err := r.store.Set(ctx, secrets.AccountKey(account.ID, field), value); err != nil {
			return MigrationResult{Error: "copy legacy " + field + ": " + err.Error()}
		}
	}

	if err := r.Add(ctx, account); err != nil {
		return MigrationResult{Error: "register migrated account: " + err.Error()}
	}

	log.Printf("[registry] migrated legacy credentials into account %s (%s)", account.ID, account.OrganizationName)
	return MigrationResult{Migrated: true, AccountID: account.ID}
}

func displayName(info legacyUserInfo) string {
	if info.Username != "" {
		return info.Username
	}
	full := strings.TrimSpace(info.FirstName + " " + info.LastName)
	if full != "" {
		return full
	}
	return info.Email
}
