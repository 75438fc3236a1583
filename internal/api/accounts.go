package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mulekit/anypoint-hub/internal/platform"
	"github.com/mulekit/anypoint-hub/internal/registry"
	"github.com/mulekit/anypoint-hub/internal/secrets"
)

// AccountsHandler lists all registered accounts.
func AccountsHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := reg.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if accounts == nil {
			accounts = []registry.Account{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
	}
}

// ActivateAccountHandler makes the account the one whose credentials back
// outbound platform calls.
func ActivateAccountHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := reg.SetActive(r.Context(), id); err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "activeAccountId": id})
	}
}

// RemoveAccountHandler deletes the account and its credential bundle.
func RemoveAccountHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := reg.Remove(r.Context(), id); err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// SetRegionHandler moves the account to another control plane, which
// invalidates its tokens.
func SetRegionHandler(reg *registry.Registry, catalog *platform.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var body struct {
			Region string `json:"region"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Region == "" {
			writeError(w, http.StatusBadRequest, "body must carry a region id")
			return
		}
		if _, err := catalog.Resolve(body.Region); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := reg.SetRegion(r.Context(), id, body.Region); err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"message": "region changed, re-login required",
		})
	}
}

// RefreshStatusesHandler re-validates every account with the serial probe
// loop and reports the per-account outcome.
func RefreshStatusesHandler(reg *registry.Registry, probe registry.ProbeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := reg.RefreshAllStatuses(r.Context(), probe)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
	}
}

// MigrateHandler promotes a legacy single-account credential bundle into the
// registry. Safe to call repeatedly.
func MigrateHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := reg.MigrateLegacy(r.Context())
		status := http.StatusOK
		if result.Error != "" {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, result)
	}
}

// EnvironmentsHandler returns the account's environments, from cache when
// present, otherwise fetched with the account's own token and cached.
func EnvironmentsHandler(reg *registry.Registry, store secrets.Store, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")
		account, err := reg.Get(ctx, id)
		if err != nil {
			writeRegistryError(w, err)
			return
		}

		cached, err := store.Get(ctx, secrets.AccountKey(id, secrets.FieldEnvironments))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if cached != "" {
			var environments []platform.Environment
			if json.Unmarshal([]byte(cached), &environments) == nil {
				writeJSON(w, http.StatusOK, map[string]any{"environments": environments})
				return
			}
		}

		accessToken, err := store.Get(ctx, secrets.AccountKey(id, secrets.FieldAccessToken))
		if err != nil || accessToken == "" {
			writeError(w, http.StatusConflict, "account has no access token, log in first")
			return
		}

		client := platform.NewClient(baseURL, platform.StaticToken(accessToken))
		environments, err := client.Environments(ctx, account.OrganizationID)
		if err != nil {
			if errors.Is(err, platform.ErrAuthenticationFailed) {
				writeError(w, http.StatusUnauthorized, "authentication failed, refresh the account")
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		if raw, err := json.Marshal(environments); err == nil {
			store.Set(ctx, secrets.AccountKey(id, secrets.FieldEnvironments), string(raw))
		}
		writeJSON(w, http.StatusOK, map[string]any{"environments": environments})
	}
}

// SelectEnvironmentHandler records the account's working environment.
func SelectEnvironmentHandler(reg *registry.Registry, store secrets.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")
		if _, err := reg.Get(ctx, id); err != nil {
			writeRegistryError(w, err)
			return
		}

		var body struct {
			EnvironmentID string `json:"environmentId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EnvironmentID == "" {
			writeError(w, http.StatusBadRequest, "body must carry an environmentId")
			return
		}

		if err := store.Set(ctx, secrets.AccountKey(id, secrets.FieldSelectedEnvironment), body.EnvironmentID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "selectedEnvironment": body.EnvironmentID})
	}
}

func writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
