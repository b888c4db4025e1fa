package sqlite

import "github.com/artpar/usagebill/ports"

// Store bundles the SQLite stores into a single ports.Store.
type Store struct {
	*EventStore
	*PlanStore
	*SubscriptionStore
	*KeyStore

	db *DB
}

// NewStore wraps an opened, migrated database.
func NewStore(db *DB) *Store {
	return &Store{
		EventStore:        NewEventStore(db),
		PlanStore:         NewPlanStore(db),
		SubscriptionStore: NewSubscriptionStore(db),
		KeyStore:          NewKeyStore(db),
		db:                db,
	}
}

// OpenStore opens path, runs migrations and returns the combined store.
func OpenStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// DB returns the underlying database.
func (s *Store) DB() *DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

var _ ports.Store = (*Store)(nil)
