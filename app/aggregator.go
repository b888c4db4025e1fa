// Package app contains the services that orchestrate the billing domain over
// the store ports.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// MetricAggregator reduces stored events into a usage quantity for one metric.
type MetricAggregator struct {
	events  ports.EventStore
	metrics ports.MetricsRecorder
}

// NewMetricAggregator creates an aggregator. recorder may be nil.
func NewMetricAggregator(events ports.EventStore, recorder ports.MetricsRecorder) *MetricAggregator {
	if recorder == nil {
		recorder = NopMetrics{}
	}
	return &MetricAggregator{events: events, metrics: recorder}
}

// Aggregate streams the customer's events for m within w through an accumulator.
// It fails with usage.ErrInvalidMetricConfig before touching the store.
func (a *MetricAggregator) Aggregate(ctx context.Context, m usage.Metric, organizationID, customerID string, w usage.Window) (usage.Result, error) {
	acc, err := usage.NewAccumulator(m)
	if err != nil {
		return usage.Result{}, err
	}
	if w.IsEmpty() {
		return acc.Result(), nil
	}

	q := ports.EventQuery{
		OrganizationID: organizationID,
		CustomerID:     customerID,
		EventName:      m.EventName,
		Window:         w,
	}
	err = a.events.FindEvents(ctx, q, func(e usage.Event) error {
		// Stores may over-select; the window and owner are re-checked here.
		if usage.Matches(e, organizationID, customerID, m.EventName, w) {
			acc.Add(e)
		}
		return nil
	})
	if err != nil {
		return usage.Result{}, fmt.Errorf("aggregate metric %s: %w", m.ID, err)
	}

	res := acc.Result()
	a.metrics.EventsAggregated(m.Aggregation, res.Matched)
	return res, nil
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) DraftCompleted(string, time.Duration)    {}
func (NopMetrics) ComponentsPriced(int)                    {}
func (NopMetrics) EventsAggregated(usage.Aggregation, int) {}
func (NopMetrics) PlanCacheLookup(bool)                    {}

var _ ports.MetricsRecorder = NopMetrics{}
