package models

import "time"

// Credential stores the OAuth token pair for one Clio account.
// Exactly one row exists per account; refresh mutates it in place.
type Credential struct {
	AccountID    string `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
