package models

import "time"

// APIKey represents a long-lived gateway credential. The raw key is shown to
// the owner exactly once at creation; only its bcrypt hash is stored. The
// plaintext key_prefix column narrows authentication lookups to a small
// candidate set before the bcrypt comparison runs.
//
// Keys are never physically deleted — revocation flips IsActive to false so
// the audit trail of a key's existence survives its revocation.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	Name       string     `db:"name" json:"name"`             // Friendly name (e.g., "Field Gateway 1")
	KeyHash    string     `db:"key_hash" json:"-"`            // Bcrypt hash of the full key
	KeyPrefix  string     `db:"key_prefix" json:"key_prefix"` // First chars for display and lookup (e.g., "lora_abc12")
	IsActive   bool       `db:"is_active" json:"is_active"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at"`   // NULL = never expires
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the key has a hard expiry in the past at the given
// instant. Keys without an expiry never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
