package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// ErrInvalidRequest is returned for malformed draft requests.
var ErrInvalidRequest = errors.New("invalid request")

// PricingError identifies the subscription and component whose metric
// aggregation or pricing failed. ComponentID is empty for plan-level failures.
type PricingError struct {
	SubscriptionID string
	ComponentID    string
	Err            error
}

func (e *PricingError) Error() string {
	if e.ComponentID == "" {
		return fmt.Sprintf("subscription %s: %v", e.SubscriptionID, e.Err)
	}
	return fmt.Sprintf("subscription %s component %s: %v", e.SubscriptionID, e.ComponentID, e.Err)
}

func (e *PricingError) Unwrap() error { return e.Err }

// Result labels used for metrics and logs.
const (
	ResultOK                   = "ok"
	ResultNoActiveSubscription = "no_active_subscription"
	ResultInvalidConfig        = "invalid_config"
	ResultStoreUnavailable     = "store_unavailable"
	ResultCancelled            = "cancelled"
	ResultInvalidRequest       = "invalid_request"
	ResultError                = "error"
)

// ResultOf classifies err into one of the Result labels.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, billing.ErrNoActiveSubscription):
		return ResultNoActiveSubscription
	case IsConfigError(err):
		return ResultInvalidConfig
	case errors.Is(err, ports.ErrStoreUnavailable):
		return ResultStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCancelled
	case errors.Is(err, ErrInvalidRequest):
		return ResultInvalidRequest
	default:
		return ResultError
	}
}

// IsConfigError reports whether err comes from a misconfigured metric,
// component or adjustment.
func IsConfigError(err error) bool {
	return errors.Is(err, usage.ErrInvalidMetricConfig) ||
		errors.Is(err, plan.ErrInvalidComponentConfig) ||
		errors.Is(err, billing.ErrInvalidAdjustment)
}
