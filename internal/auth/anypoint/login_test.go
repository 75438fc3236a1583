package anypoint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mulekit/anypoint-hub/internal/db/models"
	"github.com/mulekit/anypoint-hub/internal/registry"
	"github.com/mulekit/anypoint-hub/internal/secrets"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (secrets.Store, *registry.Registry) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := database.AutoMigrate(&models.Secret{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store := secrets.NewGormStore(database)
	return store, registry.New(store)
}

// freePort grabs an ephemeral port for the callback listener so tests do not
// collide on the fixed production port.
func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func newTestLogin(t *testing.T, tokenURL, baseURL string) (*LoginController, secrets.Store) {
	t.Helper()
	store, reg := newTestStore(t)
	cfg := Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthorizeURL: tokenURL + "/authorize",
		TokenURL:     tokenURL + "/token",
		CallbackPort: freePort(t),
	}
	return NewLoginController(cfg, store, reg, baseURL, "us"), store
}

func exchangeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		if got := r.Form.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", got)
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("exchange should carry HTTP basic client auth")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"acc-tok","token_type":"Bearer","refresh_token":"ref-tok","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("authorization url has no state nonce")
	}
	return state
}

func callback(t *testing.T, lc *LoginController, query string) *http.Response {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?%s", lc.cfg.CallbackPort, query))
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitResult(t *testing.T, ch <-chan LoginResult) LoginResult {
	t.Helper()
	select {
	case result := <-ch:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for login result")
		return LoginResult{}
	}
}

func TestCallbackErrorParameterFailsAttempt(t *testing.T) {
	srv := exchangeServer(t)
	lc, _ := newTestLogin(t, srv.URL, srv.URL)

	authURL, result, err := lc.Begin(context.Background(), false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	resp := callback(t, lc, "state="+stateOf(t, authURL)+"&error=access_denied")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	outcome := waitResult(t, result)
	if outcome.Err == nil {
		t.Fatal("expected an error result")
	}
}

func TestCallbackWithoutCodeFailsAttempt(t *testing.T) {
	srv := exchangeServer(t)
	lc, _ := newTestLogin(t, srv.URL, srv.URL)

	authURL, result, err := lc.Begin(context.Background(), false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	resp := callback(t, lc, "state="+stateOf(t, authURL))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	outcome := waitResult(t, result)
	if outcome.Err == nil {
		t.Fatal("expected an error result for missing code")
	}
}

func TestStaleStateIsRejectedWithoutConsumingAttempt(t *testing.T) {
	srv := exchangeServer(t)
	lc, _ := newTestLogin(t, srv.URL, srv.URL)

	authURL, result, err := lc.Begin(context.Background(), false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	resp := callback(t, lc, "state=some-older-attempt&code=late-code")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("stale callback status = %d, want 400", resp.StatusCode)
	}
	select {
	case outcome := <-result:
		t.Fatalf("attempt should still be pending, got %+v", outcome)
	default:
	}

	// The genuine redirect still completes the same attempt.
	resp = callback(t, lc, "state="+stateOf(t, authURL)+"&code=good-code")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("genuine callback status = %d, want 200", resp.StatusCode)
	}
	if outcome := waitResult(t, result); outcome.Err != nil {
		t.Fatalf("login failed: %v", outcome.Err)
	}
}

func TestSuccessfulLoginStoresLegacyTokens(t *testing.T) {
	srv := exchangeServer(t)
	lc, store := newTestLogin(t, srv.URL, srv.URL)
	ctx := context.Background()

	authURL, result, err := lc.Begin(ctx, false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	resp := callback(t, lc, "state="+stateOf(t, authURL)+"&code=the-code")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if outcome := waitResult(t, result); outcome.Err != nil {
		t.Fatalf("login failed: %v", outcome.Err)
	}

	access, _ := store.Get(ctx, secrets.LegacyKey(secrets.FieldAccessToken))
	if access != "acc-tok" {
		t.Fatalf("legacy access token = %q, want acc-tok", access)
	}
	refresh, _ := store.Get(ctx, secrets.LegacyKey(secrets.FieldRefreshToken))
	if refresh != "ref-tok" {
		t.Fatalf("legacy refresh token = %q, want ref-tok", refresh)
	}
	if staged, _ := store.Get(ctx, secrets.KeyTempAccessToken); staged != "" {
		t.Fatalf("staging slot should be empty for a primary login, got %q", staged)
	}
}

func TestAddNewAccountStagesTokens(t *testing.T) {
	srv := exchangeServer(t)
	lc, store := newTestLogin(t, srv.URL, srv.URL)
	ctx := context.Background()

	authURL, result, err := lc.Begin(ctx, true)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	callback(t, lc, "state="+stateOf(t, authURL)+"&code=the-code")
	if outcome := waitResult(t, result); outcome.Err != nil {
		t.Fatalf("login failed: %v", outcome.Err)
	}

	staged, _ := store.Get(ctx, secrets.KeyTempAccessToken)
	if staged != "acc-tok" {
		t.Fatalf("staged access token = %q, want acc-tok", staged)
	}
	stagedRefresh, _ := store.Get(ctx, secrets.KeyTempRefreshToken)
	if stagedRefresh != "ref-tok" {
		t.Fatalf("staged refresh token = %q, want ref-tok", stagedRefresh)
	}
	if legacy, _ := store.Get(ctx, secrets.LegacyKey(secrets.FieldAccessToken)); legacy != "" {
		t.Fatalf("legacy slot should be untouched when staging, got %q", legacy)
	}
}

func TestNewAttemptSupersedesPrevious(t *testing.T) {
	srv := exchangeServer(t)
	lc, _ := newTestLogin(t, srv.URL, srv.URL)
	ctx := context.Background()

	_, first, err := lc.Begin(ctx, false)
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	authURL2, second, err := lc.Begin(ctx, false)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}

	outcome := waitResult(t, first)
	if outcome.Err == nil {
		t.Fatal("first attempt should fail as superseded")
	}

	// The replacement attempt owns the port and still works.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?state=%s&code=the-code",
			lc.cfg.CallbackPort, stateOf(t, authURL2)))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replacement listener never came up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if outcome := waitResult(t, second); outcome.Err != nil {
		t.Fatalf("second attempt failed: %v", outcome.Err)
	}
}
