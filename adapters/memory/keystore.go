package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/artpar/usagebill/domain/key"
	"github.com/artpar/usagebill/ports"
)

// Get retrieves keys matching a lookup prefix.
func (s *Store) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []key.Key
	for _, k := range s.keys {
		if k.Prefix == prefix {
			result = append(result, k)
		}
	}
	return result, nil
}

// Create stores a new key.
func (s *Store) Create(ctx context.Context, k key.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[k.ID]; ok {
		return fmt.Errorf("key %s: %w", k.ID, ports.ErrDuplicate)
	}
	s.keys[k.ID] = k
	return nil
}

// Revoke marks a key as revoked.
func (s *Store) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return fmt.Errorf("key %s: %w", id, ports.ErrNotFound)
	}
	k.RevokedAt = &at
	s.keys[id] = k
	return nil
}

// ListByOrganization returns all keys of an organization, oldest first.
func (s *Store) ListByOrganization(ctx context.Context, organizationID string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []key.Key
	for _, k := range s.keys {
		if k.OrganizationID == organizationID {
			result = append(result, k)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
