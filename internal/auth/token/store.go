// Package token owns the Credential lifecycle: one access/refresh token pair
// per account, persisted in the database and refreshed on demand.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/richardslaw/clio-intake/internal/db/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no credential is stored for an account.
var ErrNotFound = errors.New("credential not found")

// AuthError signals that a credential is invalid or revoked and the account
// must re-authenticate. It is never retried automatically.
type AuthError struct {
	AccountID string
	Permanent bool
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error for account %s: %v", e.AccountID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Store persists credentials keyed by account ID with an in-memory cache.
// Refreshes are serialized per account so two concurrent callers cannot
// invalidate each other's refresh token.
type Store struct {
	db    *gorm.DB
	oauth *oauth2.Config

	mu    sync.RWMutex
	cache map[string]*models.Credential

	refreshGuard sync.Mutex
	refreshing   map[string]*sync.Mutex
}

// NewStore creates a credential store backed by the given database and
// OAuth2 configuration (used for the refresh grant).
func NewStore(database *gorm.DB, oauthCfg *oauth2.Config) *Store {
	s := &Store{
		db:         database,
		oauth:      oauthCfg,
		cache:      make(map[string]*models.Credential),
		refreshing: make(map[string]*sync.Mutex),
	}
	s.loadAll()
	return s
}

// loadAll rebuilds the cache from the database.
func (s *Store) loadAll() {
	var creds []models.Credential
	s.db.Find(&creds)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string]*models.Credential, len(creds))
	for i := range creds {
		c := creds[i]
		s.cache[c.AccountID] = &c
	}
	log.Printf("📦 Loaded %d credentials into cache", len(creds))
}

// Get returns a copy of the stored credential for the account.
func (s *Store) Get(accountID string) (*models.Credential, error) {
	s.mu.RLock()
	cred, ok := s.cache[accountID]
	if ok {
		cp := *cred
		s.mu.RUnlock()
		return &cp, nil
	}
	s.mu.RUnlock()

	// Not cached, try the database.
	var record models.Credential
	if err := s.db.First(&record, "account_id = ?", accountID).Error; err != nil {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	s.cache[accountID] = &record
	s.mu.Unlock()

	cp := record
	return &cp, nil
}

// Save persists the credential and updates the cache atomically.
func (s *Store) Save(cred *models.Credential) error {
	if cred.AccountID == "" {
		return errors.New("credential missing account id")
	}
	if err := s.db.Save(cred).Error; err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	cp := *cred
	s.mu.Lock()
	s.cache[cred.AccountID] = &cp
	s.mu.Unlock()
	return nil
}

// Delete removes the credential for the account (logout).
func (s *Store) Delete(accountID string) error {
	if err := s.db.Delete(&models.Credential{}, "account_id = ?", accountID).Error; err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, accountID)
	s.mu.Unlock()
	log.Printf("🔒 Deleted credential for account %s", accountID)
	return nil
}

// accountMutex returns the per-account refresh lock, creating it on demand.
func (s *Store) accountMutex(accountID string) *sync.Mutex {
	s.refreshGuard.Lock()
	defer s.refreshGuard.Unlock()
	m, ok := s.refreshing[accountID]
	if !ok {
		m = &sync.Mutex{}
		s.refreshing[accountID] = m
	}
	return m
}

// Refresh exchanges the stored refresh token for a new access token. The
// staleToken is the access token the caller found unusable; when the stored
// credential already differs, a concurrent caller refreshed first and that
// result is returned without hitting the provider again. On success the
// stored credential is replaced atomically; on failure the stored row is
// left untouched and an *AuthError is returned so the caller can force
// re-authentication instead of proceeding with a stale token.
func (s *Store) Refresh(ctx context.Context, accountID, staleToken string) (*models.Credential, error) {
	mu := s.accountMutex(accountID)
	mu.Lock()
	defer mu.Unlock()

	cred, err := s.Get(accountID)
	if err != nil {
		return nil, &AuthError{AccountID: accountID, Permanent: true, Err: err}
	}

	// Another caller may have refreshed while we waited on the lock.
	if cred.AccessToken != staleToken && time.Until(cred.ExpiresAt) > time.Minute {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		return nil, &AuthError{AccountID: accountID, Permanent: true, Err: errors.New("no refresh token, run the login flow")}
	}

	src := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		permanent := isPermanentRefreshError(err)
		if permanent {
			log.Printf("❌ Refresh token rejected for account %s: %v", accountID, err)
		} else {
			log.Printf("⏳ Transient refresh failure for account %s: %v", accountID, err)
		}
		return nil, &AuthError{AccountID: accountID, Permanent: permanent, Err: err}
	}

	cred.AccessToken = newToken.AccessToken
	cred.TokenType = newToken.TokenType
	cred.ExpiresAt = newToken.Expiry
	// Persist rotated refresh token if provided (RFC 6749 compliance)
	if newToken.RefreshToken != "" && newToken.RefreshToken != cred.RefreshToken {
		log.Printf("🔄 Rotating refresh token for account %s", accountID)
		cred.RefreshToken = newToken.RefreshToken
	}

	if err := s.Save(cred); err != nil {
		return nil, err
	}

	log.Printf("✅ Refreshed token for account %s (expires: %s)", accountID, newToken.Expiry.Format(time.RFC3339))
	return cred, nil
}

// isPermanentRefreshError reports whether a refresh failure means the grant
// itself is dead (revoked or expired) rather than a transient outage.
func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
