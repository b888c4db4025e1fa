// Package billing provides subscription, price adjustment and draft invoice
// value types and pure functions.
package billing

import (
	"errors"
	"time"

	"github.com/artpar/usagebill/domain/usage"
)

// ErrNoActiveSubscription is returned when a customer has nothing to bill.
var ErrNoActiveSubscription = errors.New("no active subscription")

// SubscriptionStatus represents subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusEnded     SubscriptionStatus = "ended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription links a customer to one plan version (value type).
type Subscription struct {
	ID             string
	OrganizationID string
	CustomerID     string
	PlanVersionID  string
	StartDate      time.Time
	EndDate        *time.Time // nil = open ended
	Status         SubscriptionStatus
	CreatedAt      time.Time
}

// IsActive returns true if the subscription participates in draft invoices.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// BillingWindow returns the aggregation window for the subscription at now:
// [StartDate, now), cut at EndDate and narrowed by the optional caller bounds.
// This is a PURE function.
func (s Subscription) BillingWindow(now time.Time, start, end *time.Time) usage.Window {
	w := usage.Window{Start: s.StartDate, End: now}
	w = w.Narrow(nil, s.EndDate)
	return w.Narrow(start, end)
}
