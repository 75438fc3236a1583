// Package anypoint runs the interactive authorization-code flow against an
// Anypoint control plane, using a one-shot loopback listener for the
// redirect.
package anypoint

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// Default OAuth client registration. The real secret is expected via
// environment; the defaults only keep a dev setup running.
const (
	DefaultClientID     = "anypoint-hub-local"
	DefaultClientSecret = "insecure-dev-secret"

	// DefaultCallbackPort must match the redirect URI of the OAuth app
	// registration on the platform side.
	DefaultCallbackPort = 8082
)

// Scopes requested for platform API access plus refresh tokens.
var Scopes = []string{"full", "offline_access"}

// Config holds the endpoints and client registration for one control plane.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	CallbackPort int
}

// NewConfig resolves client credentials from the environment with built-in
// fallbacks, in front of the given control-plane endpoints.
func NewConfig(authorizeURL, tokenURL string, callbackPort int) Config {
	clientID := os.Getenv("ANYPOINT_CLIENT_ID")
	if clientID == "" {
		clientID = DefaultClientID
	}
	clientSecret := os.Getenv("ANYPOINT_CLIENT_SECRET")
	if clientSecret == "" {
		clientSecret = DefaultClientSecret
	}
	if callbackPort == 0 {
		callbackPort = DefaultCallbackPort
	}
	return Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthorizeURL: authorizeURL,
		TokenURL:     tokenURL,
		CallbackPort: callbackPort,
	}
}

// RedirectURL is the loopback redirect URI registered with the platform.
func (c Config) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", c.CallbackPort)
}

// OAuth2 builds the oauth2 config. The platform's token endpoint wants the
// client credentials as HTTP Basic auth, so the auth style is pinned.
func (c Config) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL(),
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthorizeURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}
