package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/artpar/usagebill/domain/key"
	"github.com/artpar/usagebill/ports"
)

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

const keyColumns = `id, organization_id, name, hash, prefix, expires_at, revoked_at, created_at`

// Get retrieves keys matching a lookup prefix.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE prefix = ?`, prefix)
	if err != nil {
		return nil, storeErr(ctx, "query keys", err)
	}
	defer rows.Close()
	return s.scanKeys(ctx, rows)
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.OrganizationID, k.Name, k.Hash, k.Prefix,
		nullTime(k.ExpiresAt), nullTime(k.RevokedAt), k.CreatedAt.UTC())
	if err != nil {
		return writeErr(ctx, "insert key "+k.ID, err)
	}
	return nil
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return storeErr(ctx, "revoke key", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr(ctx, "revoke key", err)
	}
	if n == 0 {
		return fmt.Errorf("key %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

// ListByOrganization returns all keys of an organization, oldest first.
func (s *KeyStore) ListByOrganization(ctx context.Context, organizationID string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE organization_id = ? ORDER BY created_at, id`, organizationID)
	if err != nil {
		return nil, storeErr(ctx, "query keys", err)
	}
	defer rows.Close()
	return s.scanKeys(ctx, rows)
}

func (s *KeyStore) scanKeys(ctx context.Context, rows *sql.Rows) ([]key.Key, error) {
	var keys []key.Key
	for rows.Next() {
		var k key.Key
		var expiresAt, revokedAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.OrganizationID, &k.Name, &k.Hash, &k.Prefix,
			&expiresAt, &revokedAt, &k.CreatedAt); err != nil {
			return nil, storeErr(ctx, "scan key", err)
		}
		k.ExpiresAt = timePtr(expiresAt)
		k.RevokedAt = timePtr(revokedAt)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "iterate keys", err)
	}
	return keys, nil
}

var _ ports.KeyStore = (*KeyStore)(nil)
