package models

import "time"

// FieldMapping caches the remote ID of a custom field per account. The cache
// is an optimization only: it may be empty or stale, and the provisioner always
// reconciles it against the live custom-field listing before trusting it.
type FieldMapping struct {
	AccountID string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"primaryKey;size:128"`
	RemoteID  int
	FieldType string
	UpdatedAt time.Time
}
