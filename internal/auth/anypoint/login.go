package anypoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mulekit/anypoint-hub/internal/registry"
	"github.com/mulekit/anypoint-hub/internal/secrets"
)

const (
	// CallbackTimeout bounds how long a login attempt waits for the browser
	// redirect before giving up.
	CallbackTimeout = 5 * time.Minute

	// portSettleDelay gives a freshly killed port holder time to release the
	// socket before the rebind.
	portSettleDelay = 2 * time.Second
)

// LoginResult resolves a login attempt. A nil Err means the exchanged tokens
// were stored (legacy slots or staging slots, per the attempt's flag).
type LoginResult struct {
	Err error
}

// LoginController owns the single in-flight OAuth attempt. Starting a new
// attempt always tears down the previous one (last-writer-wins); each
// attempt carries its own state nonce, so a late redirect from a replaced
// attempt is rejected instead of being exchanged.
type LoginController struct {
	cfg      Config
	store    secrets.Store
	registry *registry.Registry
	baseURL  string
	regionID string
	mu       sync.Mutex
	active   *attempt
}

type attempt struct {
	state         string
	addNewAccount bool
	server        *http.Server
	timer         *time.Timer
	result        chan LoginResult
	once          sync.Once
}

// NewLoginController creates a controller with no attempt in flight.
// baseURL and regionID identify the control plane staged identities are
// validated against and committed to.
func NewLoginController(cfg Config, store secrets.Store, reg *registry.Registry, baseURL, regionID string) *LoginController {
	return &LoginController{cfg: cfg, store: store, registry: reg, baseURL: baseURL, regionID: regionID}
}

// Begin starts a login attempt: binds the loopback callback listener,
// replaces any previous attempt, and returns the authorization URL to open
// in a browser together with the channel that resolves the attempt. With
// addNewAccount the exchanged tokens land in the staging slots so the new
// identity can be validated before it becomes a permanent account.
func (l *LoginController) Begin(ctx context.Context, addNewAccount bool) (string, <-chan LoginResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil {
		l.active.finish(errors.New("superseded by a newer login attempt"))
		// Release the port synchronously so the replacement can bind it.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		l.active.server.Shutdown(shutdownCtx)
		cancel()
		l.active = nil
	}

	listener, err := l.bindCallbackPort()
	if err != nil {
		return "", nil, err
	}

	att := &attempt{
		state:         uuid.New().String(),
		addNewAccount: addNewAccount,
		result:        make(chan LoginResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", l.handleCallback(att))
	att.server = &http.Server{Handler: mux}

	go func() {
		if err := att.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[oauth] callback listener error: %v", err)
		}
	}()

	att.timer = time.AfterFunc(CallbackTimeout, func() {
		att.finish(fmt.Errorf("no OAuth callback within %v", CallbackTimeout))
	})

	l.active = att
	log.Printf("[oauth] awaiting callback on %s (addNewAccount=%v)", l.cfg.RedirectURL(), addNewAccount)
	return l.cfg.OAuth2().AuthCodeURL(att.state), att.result, nil
}

func (l *LoginController) handleCallback(att *attempt) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		// A redirect from an older, replaced attempt carries that attempt's
		// nonce. Reject it and keep waiting for the current one.
		if query.Get("state") != att.state {
			http.Error(w, "Stale login attempt", http.StatusBadRequest)
			return
		}

		if errParam := query.Get("error"); errParam != "" {
			http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
			att.finish(fmt.Errorf("authorization failed: %s", errParam))
			return
		}

		code := query.Get("code")
		if code == "" {
			http.Error(w, "No authorization code in callback", http.StatusBadRequest)
			att.finish(errors.New("no authorization code in callback"))
			return
		}

		token, err := l.cfg.OAuth2().Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, "Token exchange failed", http.StatusInternalServerError)
			att.finish(fmt.Errorf("token exchange failed: %w", err))
			return
		}

		if err := l.storeExchangedTokens(r.Context(), att.addNewAccount, token.AccessToken, token.RefreshToken); err != nil {
			http.Error(w, "Failed to store tokens", http.StatusInternalServerError)
			att.finish(err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Login successful. You can close this window.")
		att.finish(nil)
	}
}

func (l *LoginController) storeExchangedTokens(ctx context.Context, staged bool, accessToken, refreshToken string) error {
	accessKey := secrets.LegacyKey(secrets.FieldAccessToken)
	refreshKey := secrets.LegacyKey(secrets.FieldRefreshToken)
	if staged {
		accessKey = secrets.KeyTempAccessToken
		refreshKey = secrets.KeyTempRefreshToken
	}

	if err := l.store.Set(ctx, accessKey, accessToken); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if refreshToken != "" {
		if err := l.store.Set(ctx, refreshKey, refreshToken); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
	}
	return nil
}

// finish resolves the attempt exactly once and shuts its listener down.
func (a *attempt) finish(err error) {
	a.once.Do(func() {
		if a.timer != nil {
			a.timer.Stop()
		}
		a.result <- LoginResult{Err: err}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := a.server.Shutdown(ctx); err != nil {
				log.Printf("[oauth] callback listener shutdown: %v", err)
			}
		}()
	})
}

// bindCallbackPort binds the fixed loopback port. When the port is still
// held (typically a listener from a crashed previous run), the holder is
// killed best-effort, the socket is given time to settle, and the bind is
// retried once.
func (l *LoginController) bindCallbackPort() (net.Listener, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", l.cfg.CallbackPort)

	listener, err := net.Listen("tcp", addr)
	if err == nil {
		return listener, nil
	}

	log.Printf("[oauth] port %d busy, attempting to free it: %v", l.cfg.CallbackPort, err)
	freeCallbackPort(l.cfg.CallbackPort)
	time.Sleep(portSettleDelay)

	listener, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind callback port %d: %w", l.cfg.CallbackPort, err)
	}
	return listener, nil
}

// freeCallbackPort kills whatever holds the port. Failures are swallowed:
// freeing the port is an optimization, the retry decides the outcome.
func freeCallbackPort(port int) {
	if runtime.GOOS == "windows" {
		return
	}
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		return
	}
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if err := exec.Command("kill", strconv.Itoa(pid)).Run(); err != nil {
			log.Printf("[oauth] could not kill pid %d holding port %d: %v", pid, port, err)
		}
	}
}
