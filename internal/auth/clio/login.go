package clio

import (
	"fmt"
	"net/http"

	"github.com/richardslaw/clio-intake/internal/config"
	"golang.org/x/oauth2"
)

// redirectURLFor builds the callback URL from the incoming request so the
// service works behind a proxy without extra configuration.
func redirectURLFor(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/clio/callback", scheme, r.Host)
}

// HandleLogin initiates the Clio OAuth flow. The account (firm) identifier is
// carried through the flow in the state parameter so the callback knows which
// account the tokens belong to.
func HandleLogin(clioCfg config.ClioConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		if account == "" {
			http.Error(w, "missing account parameter", http.StatusBadRequest)
			return
		}

		oauthCfg := OAuthConfig(clioCfg, redirectURLFor(r))
		url := oauthCfg.AuthCodeURL(account, oauth2.AccessTypeOffline)
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
	}
}
