// Package registry maintains the account list and the per-account credential
// bundles on top of the secret store. The registry is persisted as a single
// JSON blob; every mutation is a mutex-guarded read-modify-rewrite of that
// blob, so there is exactly one writer at a time.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mulekit/anypoint-hub/internal/secrets"
)

// ErrAccountNotFound is returned when an operation names an unknown account id.
var ErrAccountNotFound = fmt.Errorf("account not found")

// Registry owns the account list and cascades account lifecycle changes into
// the credential store.
type Registry struct {
	store secrets.Store
	mu    sync.Mutex
	now   func() time.Time
}

// New creates a registry over the given secret store.
func New(store secrets.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

func (r *Registry) load(ctx context.Context) ([]Account, error) {
	raw, err := r.store.Get(ctx, secrets.KeyRegistry)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var accounts []Account
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("parse account registry: %w", err)
	}
	return accounts, nil
}

func (r *Registry) save(ctx context.Context, accounts []Account) error {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("serialize account registry: %w", err)
	}
	return r.store.Set(ctx, secrets.KeyRegistry, string(raw))
}

// List returns all accounts in registry order.
func (r *Registry) List(ctx context.Context) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Get returns the account with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	accounts, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].ID == id {
			return &accounts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// Active returns the currently active account, or nil when none is active.
func (r *Registry) Active(ctx context.Context) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	accounts, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].IsActive {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// Add upserts an account keyed by organization id: a second login for the
// same organization overwrites the existing entry in place, later data wins.
// The replaced entry's active flag carries over unless the new entry claims
// it explicitly.
func (r *Registry) Add(ctx context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.load(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i := range accounts {
		if accounts[i].OrganizationID == account.OrganizationID {
			if accounts[i].IsActive && !account.IsActive {
				account.IsActive = true
			}
			accounts[i] = account
			replaced = true
			break
		}
	}
	if !replaced {
		accounts = append(accounts, account)
	}

	if account.IsActive {
		accounts = activateOnly(accounts, account.ID, r.now())
		if err := r.store.Set(ctx, secrets.KeyActiveAccount, account.ID); err != nil {
			return err
		}
	}

	if err := r.save(ctx, accounts); err != nil {
		return err
	}
	log.Printf("[registry] account %s (%s) %s", account.ID, account.OrganizationName,
		map[bool]string{true: "replaced", false: "added"}[replaced])
	return nil
}

// SetActive makes exactly one account active and records its last-used time.
func (r *Registry) SetActive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.load(ctx)
	if err != nil {
		return err
	}
	if !contains(accounts, id) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	accounts = activateOnly(accounts, id, r.now())
	if err := r.save(ctx, accounts); err != nil {
		return err
	}
	return r.store.Set(ctx, secrets.KeyActiveAccount, id)
}

// Remove deletes the account and its entire credential bundle. When the
// removed account was active, the first remaining account is promoted;
// with no accounts left the active-id key is cleared.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.load(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i := range accounts {
		if accounts[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	wasActive := accounts[idx].IsActive
	accounts = append(accounts[:idx], accounts[idx+1:]...)

	for _, field := range secrets.BundleFields {
		if err := r.store.Delete(ctx, secrets.AccountKey(id, field)); err != nil {
			return err
		}
	}

	if wasActive {
		if len(accounts) > 0 {
			accounts = activateOnly(accounts, accounts[0].ID, r.now())
			if err := r.store.Set(ctx, secrets.KeyActiveAccount, accounts[0].ID); err != nil {
				return err
			}
			log.Printf("[registry] promoted %s to active after removing %s", accounts[0].ID, id)
		} else {
			if err := r.store.Delete(ctx, secrets.KeyActiveAccount); err != nil {
				return err
			}
		}
	}

	return r.save(ctx, accounts)
}

// UpdateStatus rewrites one account's status. Demotion to expired or error
// also clears the account's cached environments and user info so the next
// use re-fetches them.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.load(ctx)
	if err != nil {
		return err
	}

	found := false
	for i := range accounts {
		if accounts[i].ID == id {
			accounts[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	if status == StatusExpired || status == StatusError {
		if err := r.clearCachedData(ctx, id); err != nil {
			return err
		}
	}

	return r.save(ctx, accounts)
}

// SetRegion records a new control-plane region for the account. Tokens issued
// by the old control plane are useless against the new one, so both token
// slots are dropped and the account demoted to expired.
func (r *Registry) SetRegion(ctx context.Context, id, region string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.load(ctx)
	if err != nil {
		return err
	}

	found := false
	for i := range accounts {
		if accounts[i].ID == id {
			accounts[i].Region = region
			accounts[i].Status = StatusExpired
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	if err := r.store.Delete(ctx, secrets.AccountKey(id, secrets.FieldAccessToken)); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, secrets.AccountKey(id, secrets.FieldRefreshToken)); err != nil {
		return err
	}
	if err := r.clearCachedData(ctx, id); err != nil {
		return err
	}

	log.Printf("[registry] region of %s changed to %s, tokens invalidated", id, region)
	return r.save(ctx, accounts)
}

// ProbeFunc checks whether an account's credentials still work and reports
// the resulting status. The account is active while the probe runs.
type ProbeFunc func(ctx context.Context, account Account) Status

// RefreshAllStatuses re-validates every account with a serial probe loop:
// each account is temporarily made active, probed, and its status recorded;
// the originally active account is restored afterwards. User-triggered
// diagnostic, deliberately not parallelized.
func (r *Registry) RefreshAllStatuses(ctx context.Context, probe ProbeFunc) (map[string]Status, error) {
	accounts, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var originalActive string
	for _, acc := range accounts {
		if acc.IsActive {
			originalActive = acc.ID
			break
		}
	}

	results := make(map[string]Status, len(accounts))
	for _, acc := range accounts {
		if err := r.SetActive(ctx, acc.ID); err != nil {
			return results, err
		}
		status := probe(ctx, acc)
		results[acc.ID] = status
		if err := r.UpdateStatus(ctx, acc.ID, status); err != nil {
			return results, err
		}
	}

	if originalActive != "" {
		if err := r.SetActive(ctx, originalActive); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (r *Registry) clearCachedData(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, secrets.AccountKey(id, secrets.FieldEnvironments)); err != nil {
		return err
	}
	return r.store.Delete(ctx, secrets.AccountKey(id, secrets.FieldUserInfo))
}

func activateOnly(accounts []Account, id string, now time.Time) []Account {
	for i := range accounts {
		if accounts[i].ID == id {
			accounts[i].IsActive = true
			accounts[i].LastUsed = now
		} else {
			accounts[i].IsActive = false
		}
	}
	return accounts
}

func contains(accounts []Account, id string) bool {
	for i := range accounts {
		if accounts[i].ID == id {
			return true
		}
	}
	return false
}
