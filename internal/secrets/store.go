// Package secrets is the flat namespaced key-value store that holds account
// credential bundles, the account registry blob, and the legacy pre-multi-account
// slots. Controllers only see the Store interface so the backend stays swappable.
package secrets

import "context"

// Store is an async key-value secret store. Get returns ("", nil) for a
// missing key; absence is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
