package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/ports"
)

// SubscriptionStore implements ports.SubscriptionStore, ports.SubscriptionWriter
// and ports.OrganizationStore using SQLite.
type SubscriptionStore struct {
	db *DB
}

// NewSubscriptionStore creates a new SQLite subscription store.
func NewSubscriptionStore(db *DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// CreateOrganization stores a new organization.
func (s *SubscriptionStore) CreateOrganization(ctx context.Context, o ports.Organization) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		o.ID, o.Name, o.CreatedAt.UTC())
	if err != nil {
		return writeErr(ctx, "insert organization "+o.ID, err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *SubscriptionStore) GetOrganization(ctx context.Context, id string) (ports.Organization, error) {
	var o ports.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Organization{}, fmt.Errorf("organization %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return ports.Organization{}, storeErr(ctx, "get organization", err)
	}
	return o, nil
}

// CreateSubscription stores a new subscription.
func (s *SubscriptionStore) CreateSubscription(ctx context.Context, sub billing.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, organization_id, customer_id, plan_version_id,
			start_date, end_date, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID, sub.OrganizationID, sub.CustomerID, sub.PlanVersionID,
		sub.StartDate.UTC(), nullTime(sub.EndDate), string(sub.Status), sub.CreatedAt.UTC(),
	)
	if err != nil {
		return writeErr(ctx, "insert subscription "+sub.ID, err)
	}
	return nil
}

// FindActiveSubscriptions returns the customer's active subscriptions ordered
// by start date, then ID.
func (s *SubscriptionStore) FindActiveSubscriptions(ctx context.Context, organizationID, customerID string) ([]billing.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, customer_id, plan_version_id,
		       start_date, end_date, status, created_at
		FROM subscriptions
		WHERE organization_id = ? AND customer_id = ? AND status = ?
		ORDER BY start_date, id
	`, organizationID, customerID, string(billing.SubscriptionStatusActive))
	if err != nil {
		return nil, storeErr(ctx, "query subscriptions", err)
	}
	defer rows.Close()

	var subs []billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, storeErr(ctx, "scan subscription", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "iterate subscriptions", err)
	}
	return subs, nil
}

func scanSubscription(rows *sql.Rows) (billing.Subscription, error) {
	var sub billing.Subscription
	var status string
	var endDate sql.NullTime

	err := rows.Scan(
		&sub.ID, &sub.OrganizationID, &sub.CustomerID, &sub.PlanVersionID,
		&sub.StartDate, &endDate, &status, &sub.CreatedAt,
	)
	if err != nil {
		return billing.Subscription{}, err
	}

	sub.StartDate = sub.StartDate.UTC()
	sub.EndDate = timePtr(endDate)
	sub.Status = billing.SubscriptionStatus(status)
	return sub, nil
}

var (
	_ ports.SubscriptionStore  = (*SubscriptionStore)(nil)
	_ ports.SubscriptionWriter = (*SubscriptionStore)(nil)
	_ ports.OrganizationStore  = (*SubscriptionStore)(nil)
)
