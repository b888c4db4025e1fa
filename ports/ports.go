// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/key"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
)

// Store errors. Adapters wrap driver failures in ErrStoreUnavailable and
// report missing rows as ErrNotFound.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("duplicate")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides API key hashing.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Billing Read Ports
// -----------------------------------------------------------------------------

// EventQuery selects events for one metric aggregation.
type EventQuery struct {
	OrganizationID string
	CustomerID     string
	EventName      string
	Window         usage.Window // half-open
}

// EventStore streams stored usage events.
type EventStore interface {
	// FindEvents calls visit for every event matching q. Returning an error
	// from visit stops the scan and is returned as is.
	FindEvents(ctx context.Context, q EventQuery, visit func(usage.Event) error) error
}

// SubscriptionStore reads subscriptions.
type SubscriptionStore interface {
	// FindActiveSubscriptions returns the customer's subscriptions with status active.
	FindActiveSubscriptions(ctx context.Context, organizationID, customerID string) ([]billing.Subscription, error)
}

// PlanStore reads plan versions with components and adjustment resolved.
type PlanStore interface {
	GetPlanVersion(ctx context.Context, id string) (plan.Version, error)
	// PlanVersionRevision returns the current Revision of a plan version
	// without loading its components.
	PlanVersionRevision(ctx context.Context, id string) (int64, error)
}

// PlanCache is an optional read-through cache in front of PlanStore.
// A miss returns ok=false with a nil error. Entries may be stale; readers
// compare Revision against PlanStore.PlanVersionRevision.
type PlanCache interface {
	Get(ctx context.Context, id string) (v plan.Version, ok bool, err error)
	Set(ctx context.Context, v plan.Version) error
	Invalidate(ctx context.Context, id string) error
}

// -----------------------------------------------------------------------------
// Write Ports (seeding and administration, never used by draft computation)
// -----------------------------------------------------------------------------

// Organization owns customers, metrics, plans and API keys.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// OrganizationStore persists organizations.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, o Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
}

// EventRecorder stores already-validated events.
type EventRecorder interface {
	RecordEvents(ctx context.Context, events []usage.Event) error
}

// MetricStore persists billable metrics.
type MetricStore interface {
	CreateMetric(ctx context.Context, m usage.Metric) error
	GetMetric(ctx context.Context, id string) (usage.Metric, error)
}

// PlanWriter persists plan versions and their adjustment.
type PlanWriter interface {
	// CreatePlanVersion stores v and its components. Components reference
	// metrics by ID; only the metric ID is read.
	CreatePlanVersion(ctx context.Context, v plan.Version) error
	// SetPriceAdjustment replaces the adjustment of a plan version.
	SetPriceAdjustment(ctx context.Context, versionID string, adj billing.PriceAdjustment) error
}

// SubscriptionWriter persists subscriptions.
type SubscriptionWriter interface {
	CreateSubscription(ctx context.Context, s billing.Subscription) error
}

// KeyStore persists organization API keys.
type KeyStore interface {
	// Get retrieves keys matching a lookup prefix.
	Get(ctx context.Context, prefix string) ([]key.Key, error)
	Create(ctx context.Context, k key.Key) error
	Revoke(ctx context.Context, id string, at time.Time) error
	ListByOrganization(ctx context.Context, organizationID string) ([]key.Key, error)
}

// Store is the full set of persistence ports an adapter provides.
type Store interface {
	EventStore
	SubscriptionStore
	PlanStore
	OrganizationStore
	EventRecorder
	MetricStore
	PlanWriter
	SubscriptionWriter
	KeyStore
	Close() error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// MetricsRecorder receives billing pipeline measurements.
type MetricsRecorder interface {
	DraftCompleted(result string, elapsed time.Duration)
	ComponentsPriced(n int)
	EventsAggregated(aggregation usage.Aggregation, n int)
	PlanCacheLookup(hit bool)
}
