// Package memory provides in-memory implementations of the store ports for
// tests and --memory mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/key"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// Store is an in-memory implementation of ports.Store. All reads return copies.
type Store struct {
	mu            sync.RWMutex
	organizations map[string]ports.Organization
	metrics       map[string]usage.Metric
	versions      map[string]plan.Version
	subscriptions map[string]billing.Subscription
	events        map[customerKey][]usage.Event // sorted by TimeCreated
	keys          map[string]key.Key            // by ID
}

type customerKey struct {
	organizationID string
	customerID     string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		organizations: make(map[string]ports.Organization),
		metrics:       make(map[string]usage.Metric),
		versions:      make(map[string]plan.Version),
		subscriptions: make(map[string]billing.Subscription),
		events:        make(map[customerKey][]usage.Event),
		keys:          make(map[string]key.Key),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// CreateOrganization stores a new organization.
func (s *Store) CreateOrganization(ctx context.Context, o ports.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[o.ID]; ok {
		return fmt.Errorf("organization %s: %w", o.ID, ports.ErrDuplicate)
	}
	s.organizations[o.ID] = o
	return nil
}

// GetOrganization returns an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id string) (ports.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.organizations[id]
	if !ok {
		return ports.Organization{}, fmt.Errorf("organization %s: %w", id, ports.ErrNotFound)
	}
	return o, nil
}

// CreateMetric stores a billable metric.
func (s *Store) CreateMetric(ctx context.Context, m usage.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metrics[m.ID]; ok {
		return fmt.Errorf("metric %s: %w", m.ID, ports.ErrDuplicate)
	}
	s.metrics[m.ID] = m
	return nil
}

// GetMetric returns a metric by ID.
func (s *Store) GetMetric(ctx context.Context, id string) (usage.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[id]
	if !ok {
		return usage.Metric{}, fmt.Errorf("metric %s: %w", id, ports.ErrNotFound)
	}
	return m, nil
}

// CreateSubscription stores a subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, ports.ErrDuplicate)
	}
	if _, ok := s.versions[sub.PlanVersionID]; !ok {
		return fmt.Errorf("plan version %s: %w", sub.PlanVersionID, ports.ErrNotFound)
	}
	s.subscriptions[sub.ID] = sub
	return nil
}

// FindActiveSubscriptions returns active subscriptions ordered by (StartDate, ID).
func (s *Store) FindActiveSubscriptions(ctx context.Context, organizationID, customerID string) ([]billing.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []billing.Subscription
	for _, sub := range s.subscriptions {
		if sub.OrganizationID == organizationID && sub.CustomerID == customerID && sub.IsActive() {
			result = append(result, sub)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ ports.Store = (*Store)(nil)
