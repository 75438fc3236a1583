package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mulekit/anypoint-hub/internal/auth/anypoint"
	"github.com/mulekit/anypoint-hub/internal/auth/token"
)

// LoginHandler starts a browser login. The response carries the
// authorization URL; with open=true the default browser is opened as well.
// The attempt resolves asynchronously through the login controller's
// one-shot callback listener.
func LoginHandler(lc *anypoint.LoginController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AddNewAccount bool `json:"addNewAccount"`
			Open          bool `json:"open"`
		}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}

		authURL, result, err := lc.Begin(r.Context(), body.AddNewAccount)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if body.Open {
			if err := anypoint.OpenBrowser(authURL); err != nil {
				log.Printf("[api] could not open browser: %v", err)
			}
		}

		go func() {
			outcome := <-result
			if outcome.Err != nil {
				log.Printf("[api] login attempt failed: %v", outcome.Err)
				return
			}
			log.Printf("[api] login attempt succeeded (staged=%v)", body.AddNewAccount)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"authorizationUrl": authURL,
			"addNewAccount":    body.AddNewAccount,
		})
	}
}

// CommitLoginHandler turns a staged login into a permanent active account.
func CommitLoginHandler(lc *anypoint.LoginController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := lc.CommitStaged(r.Context())
		if err != nil {
			if errors.Is(err, anypoint.ErrNoStagedLogin) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": account})
	}
}

// RefreshHandler renews the access token for a specific account.
func RefreshHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ok, message := mgr.Refresh(r.Context(), id)
		status := http.StatusOK
		if !ok {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"ok": ok, "message": message})
	}
}

// RefreshActiveHandler renews the active account's token, falling back to
// the legacy slot when no account is active.
func RefreshActiveHandler(mgr *token.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, message := mgr.Refresh(r.Context(), "")
		status := http.StatusOK
		if !ok {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"ok": ok, "message": message})
	}
}
