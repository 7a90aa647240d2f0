package clio

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/richardslaw/clio-intake/internal/auth/token"
	"github.com/richardslaw/clio-intake/internal/config"
	"github.com/richardslaw/clio-intake/internal/db/models"
)

// HandleCallback processes the OAuth callback from Clio: exchanges the
// authorization code for a token pair and stores it for the account carried
// in the state parameter.
func HandleCallback(clioCfg config.ClioConfig, store *token.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("state")
		if accountID == "" {
			http.Error(w, "missing state parameter", http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}

		oauthCfg := OAuthConfig(clioCfg, redirectURLFor(r))
		tok, err := oauthCfg.Exchange(context.Background(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusBadRequest)
			return
		}

		cred := &models.Credential{
			AccountID:    accountID,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.TokenType,
			ExpiresAt:    tok.Expiry,
		}
		if err := store.Save(cred); err != nil {
			http.Error(w, fmt.Sprintf("Failed to save credential: %v", err), http.StatusInternalServerError)
			return
		}

		log.Printf("✅ Completed OAuth login for account %s (expires: %s)", accountID, tok.Expiry.Format(time.RFC3339))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta http-equiv="refresh" content="3;url=/">
	<title>Login Successful</title>
</head>
<body>
	<h1>✅ Login Successful</h1>
	<p><strong>Account:</strong> %s</p>
	<p>Redirecting in 3 seconds...</p>
</body>
</html>`, accountID)
	}
}
