package key

import (
	"strings"
	"time"
)

// Validate checks if a key is usable at the given time.
// This is a PURE function.
func Validate(k Key, now time.Time) ValidationResult {
	if k.RevokedAt != nil {
		return ValidationResult{Reason: ReasonRevoked}
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return ValidationResult{Reason: ReasonExpired}
	}
	return ValidationResult{Valid: true, Key: k}
}

// ValidateFormat checks the shape of a raw key and returns its lookup prefix.
// This is a PURE function.
func ValidateFormat(rawKey, expectedPrefix string) (prefix string, valid bool) {
	if !strings.HasPrefix(rawKey, expectedPrefix) {
		return "", false
	}
	if len(rawKey) < len(expectedPrefix)+64 {
		return "", false
	}
	return LookupPrefix(rawKey, expectedPrefix), true
}
