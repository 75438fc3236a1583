package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"

	"github.com/mulekit/anypoint-hub/internal/secrets"
)

// EnsureAdminKey returns the admin API key, preferring an operator override
// and otherwise generating one into the store on first run.
func EnsureAdminKey(ctx context.Context, store secrets.Store, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	existing, err := store.Get(ctx, secrets.KeyAdminAPIKey)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	raw := make([]byte, 16)
	rand.Read(raw)
	key := "ak-" + hex.EncodeToString(raw)
	if err := store.Set(ctx, secrets.KeyAdminAPIKey, key); err != nil {
		return "", err
	}
	log.Printf("[api] generated admin API key: %s", key)
	return key, nil
}

// AdminKeyAuth guards the admin API. The key is accepted as a Bearer token
// or an x-api-key header.
func AdminKeyAuth(key string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") && strings.TrimPrefix(authHeader, "Bearer ") == key {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("x-api-key") == key {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid admin key")
		})
	}
}
