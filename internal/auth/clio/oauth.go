// Package clio implements the OAuth2 authorization-code flow against the
// Clio identity provider. Only the token lifecycle it produces matters to the
// rest of the pipeline; the browser redirect dance lives entirely here.
package clio

import (
	"os"
	"strings"

	"github.com/richardslaw/clio-intake/internal/config"
	"golang.org/x/oauth2"
)

// OAuthConfig returns the OAuth2 config for Clio authentication. Client
// credentials come from the environment; endpoints come from configuration so
// tests can point at a local server.
func OAuthConfig(clioCfg config.ClioConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     os.Getenv("CLIO_CLIENT_ID"),
		ClientSecret: os.Getenv("CLIO_CLIENT_SECRET"),
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  clioCfg.AuthorizeURL,
			TokenURL: clioCfg.TokenURL,
			// Clio expects client credentials in the POST body.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// HasClientCredentials reports whether the Clio app credentials are set.
func HasClientCredentials() bool {
	return strings.TrimSpace(os.Getenv("CLIO_CLIENT_ID")) != "" &&
		strings.TrimSpace(os.Getenv("CLIO_CLIENT_SECRET")) != ""
}
