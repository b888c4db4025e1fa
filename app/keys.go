package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/usagebill/domain/key"
	"github.com/artpar/usagebill/ports"
)

// ErrInvalidAPIKey is returned for unknown, malformed, revoked or expired keys.
var ErrInvalidAPIKey = errors.New("invalid api key")

// AuthError carries the key.Reason* constant explaining a rejected key.
// It matches ErrInvalidAPIKey with errors.Is.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "invalid api key: " + e.Reason }

func (e *AuthError) Is(target error) bool { return target == ErrInvalidAPIKey }

func rejected(reason string) error { return &AuthError{Reason: reason} }

// KeyService issues and authenticates organization API keys.
type KeyService struct {
	keys          ports.KeyStore
	organizations ports.OrganizationStore
	hasher        ports.Hasher
	clock         ports.Clock
	prefix        string
	logger        zerolog.Logger
}

// NewKeyService creates a key service for keys starting with prefix.
func NewKeyService(keys ports.KeyStore, organizations ports.OrganizationStore, hasher ports.Hasher, clock ports.Clock, prefix string, logger zerolog.Logger) *KeyService {
	return &KeyService{
		keys:          keys,
		organizations: organizations,
		hasher:        hasher,
		clock:         clock,
		prefix:        prefix,
		logger:        logger,
	}
}

// Create issues a new key for an existing organization. The raw key is
// returned once and never stored.
func (s *KeyService) Create(ctx context.Context, organizationID, name string) (string, key.Key, error) {
	if _, err := s.organizations.GetOrganization(ctx, organizationID); err != nil {
		return "", key.Key{}, err
	}

	raw, k, err := key.Generate(s.prefix, organizationID, s.clock.Now())
	if err != nil {
		return "", key.Key{}, err
	}
	if k.Hash, err = s.hasher.Hash(raw); err != nil {
		return "", key.Key{}, fmt.Errorf("hash key: %w", err)
	}
	k = k.WithName(name)

	if err := s.keys.Create(ctx, k); err != nil {
		return "", key.Key{}, fmt.Errorf("store key: %w", err)
	}

	s.logger.Info().Str("org", organizationID).Str("key_id", k.ID).Str("prefix", k.Prefix).Msg("api key created")
	return raw, k, nil
}

// Import stores a caller-supplied raw key, hashing it first.
func (s *KeyService) Import(ctx context.Context, organizationID, name, raw string) (key.Key, error) {
	prefix, ok := key.ValidateFormat(raw, s.prefix)
	if !ok {
		return key.Key{}, rejected(key.ReasonBadFormat)
	}
	_, k, err := key.Generate(s.prefix, organizationID, s.clock.Now())
	if err != nil {
		return key.Key{}, err
	}
	k.Prefix = prefix
	if k.Hash, err = s.hasher.Hash(raw); err != nil {
		return key.Key{}, fmt.Errorf("hash key: %w", err)
	}
	k = k.WithName(name)
	if err := s.keys.Create(ctx, k); err != nil {
		return key.Key{}, fmt.Errorf("store key: %w", err)
	}
	return k, nil
}

// Authenticate resolves a raw key to its stored record.
func (s *KeyService) Authenticate(ctx context.Context, raw string) (key.Key, error) {
	prefix, ok := key.ValidateFormat(raw, s.prefix)
	if !ok {
		return key.Key{}, rejected(key.ReasonBadFormat)
	}

	candidates, err := s.keys.Get(ctx, prefix)
	if err != nil {
		return key.Key{}, fmt.Errorf("lookup key: %w", err)
	}

	for _, k := range candidates {
		if !s.hasher.Compare(k.Hash, raw) {
			continue
		}
		result := key.Validate(k, s.clock.Now())
		if !result.Valid {
			return key.Key{}, rejected(result.Reason)
		}
		return result.Key, nil
	}
	return key.Key{}, rejected(key.ReasonNotFound)
}

// Revoke disables a key.
func (s *KeyService) Revoke(ctx context.Context, id string) error {
	if err := s.keys.Revoke(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info().Str("key_id", id).Msg("api key revoked")
	return nil
}

// List returns the organization's keys.
func (s *KeyService) List(ctx context.Context, organizationID string) ([]key.Key, error) {
	return s.keys.ListByOrganization(ctx, organizationID)
}
