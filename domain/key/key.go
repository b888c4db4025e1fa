// Package key provides organization API key value types and pure validation.
// Hashing is left to the ports.Hasher implementation.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// LookupLength is the number of key characters after the configured prefix
// that are stored for lookup.
const LookupLength = 9

// Key is an organization API key as stored (immutable value type).
type Key struct {
	ID             string
	OrganizationID string
	Name           string
	Hash           []byte // hash of the full raw key
	Prefix         string // configured prefix + LookupLength chars of the raw key
	ExpiresAt      *time.Time
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

// Reasons for validation failure.
const (
	ReasonValid     = ""
	ReasonNotFound  = "key_not_found"
	ReasonExpired   = "key_expired"
	ReasonRevoked   = "key_revoked"
	ReasonBadFormat = "invalid_format"
)

// ValidationResult is the outcome of validating a stored key.
type ValidationResult struct {
	Valid  bool
	Key    Key
	Reason string
}

// Generate creates a raw key of prefix + 64 hex chars and the Key to store.
// The returned Key has no Hash; callers hash rawKey before storing it.
func Generate(prefix, organizationID string, now time.Time) (rawKey string, k Key, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", Key{}, fmt.Errorf("generate key: %w", err)
	}
	rawKey = prefix + hex.EncodeToString(secret)

	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return "", Key{}, fmt.Errorf("generate key id: %w", err)
	}

	return rawKey, Key{
		ID:             "key_" + hex.EncodeToString(id),
		OrganizationID: organizationID,
		Prefix:         LookupPrefix(rawKey, prefix),
		CreatedAt:      now.UTC(),
	}, nil
}

// LookupPrefix returns the stored lookup prefix of rawKey. rawKey must carry
// at least LookupLength characters after prefix.
func LookupPrefix(rawKey, prefix string) string {
	return rawKey[:len(prefix)+LookupLength]
}

// WithName returns a copy of the key with the Name set.
func (k Key) WithName(name string) Key {
	k.Name = name
	return k
}
