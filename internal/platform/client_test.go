package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUnauthorizedIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("dead-token"))
	_, err := client.Me(context.Background())
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"user":{"email":"a@acme.com","organization":{"id":"org1","name":"Acme"}}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok-123"))
	profile, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
	if profile.Email != "a@acme.com" || profile.Organization.ID != "org1" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestEnvironmentsParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/api/organizations/org1/environments" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"env1","name":"Sandbox","type":"sandbox","isProduction":false},{"id":"env2","name":"Prod","type":"production","isProduction":true}],"total":2}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	environments, err := client.Environments(context.Background(), "org1")
	if err != nil {
		t.Fatalf("environments: %v", err)
	}
	if len(environments) != 2 {
		t.Fatalf("expected 2 environments, got %d", len(environments))
	}
	if !environments[1].IsProduction {
		t.Fatal("second environment should be production")
	}
}

func TestNonSuccessStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message":"upstream sad"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("tok"))
	err := client.Get(context.Background(), "/anything", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Fatal("502 must not be classified as an auth failure")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream sad") {
		t.Fatalf("error should carry status and body, got %v", err)
	}
}

func TestTokenFuncFailureShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, func(context.Context) (string, error) {
		return "", errors.New("no active account")
	})
	if err := client.Get(context.Background(), "/x", nil); err == nil {
		t.Fatal("expected token resolution error")
	}
	if called {
		t.Fatal("no request should be sent when the token cannot be resolved")
	}
}
