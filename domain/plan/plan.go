// Package plan provides plan version value types and the batch pricing math.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/usage"
)

// ErrInvalidComponentConfig is returned for components that cannot be priced.
var ErrInvalidComponentConfig = errors.New("invalid component config")

// Component binds a metric to a batch pricing rule (immutable value type).
type Component struct {
	ID            string
	Metric        usage.Metric
	FreeUnits     decimal.Decimal
	CostPerBatch  decimal.Decimal
	UnitsPerBatch decimal.Decimal
	CreatedAt     time.Time
}

// Validate checks the pricing rule invariants.
// This is a PURE function.
func (c Component) Validate() error {
	if !c.UnitsPerBatch.IsPositive() {
		return fmt.Errorf("%w: component %s has units per batch %s", ErrInvalidComponentConfig, c.ID, c.UnitsPerBatch)
	}
	if c.FreeUnits.IsNegative() {
		return fmt.Errorf("%w: component %s has negative free units", ErrInvalidComponentConfig, c.ID)
	}
	if c.CostPerBatch.IsNegative() {
		return fmt.Errorf("%w: component %s has negative cost per batch", ErrInvalidComponentConfig, c.ID)
	}
	return nil
}

// Version is an immutable pricing configuration that subscriptions reference.
type Version struct {
	ID             string
	OrganizationID string
	PlanName       string
	Version        int
	Components     []Component
	Adjustment     billing.PriceAdjustment
	Revision       int64 // bumped each time Adjustment is replaced
	CreatedAt      time.Time
}

// Metrics returns the distinct metrics referenced by the version's components,
// in component order.
func (v Version) Metrics() []usage.Metric {
	seen := make(map[string]bool, len(v.Components))
	out := make([]usage.Metric, 0, len(v.Components))
	for _, c := range SortedComponents(v.Components) {
		if seen[c.Metric.ID] {
			continue
		}
		seen[c.Metric.ID] = true
		out = append(out, c.Metric)
	}
	return out
}

// SortedComponents returns a copy ordered by (CreatedAt, ID).
// This is a PURE function.
func SortedComponents(components []Component) []Component {
	out := make([]Component, len(components))
	copy(out, components)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
