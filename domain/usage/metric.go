package usage

import (
	"errors"
	"fmt"
)

// ErrInvalidMetricConfig is returned when a metric cannot be aggregated as configured.
var ErrInvalidMetricConfig = errors.New("invalid metric config")

// Aggregation is the reduction applied to a metric's matching events.
type Aggregation string

const (
	AggregationCount  Aggregation = "count"
	AggregationSum    Aggregation = "sum"
	AggregationMax    Aggregation = "max"
	AggregationUnique Aggregation = "unique" // distinct property values
)

// Aggregations lists every supported aggregation kind.
var Aggregations = []Aggregation{AggregationCount, AggregationSum, AggregationMax, AggregationUnique}

// RequiresProperty reports whether the aggregation reads a property value.
func (a Aggregation) RequiresProperty() bool {
	switch a {
	case AggregationSum, AggregationMax, AggregationUnique:
		return true
	default:
		return false
	}
}

// Valid reports whether a is a known aggregation kind.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationCount, AggregationSum, AggregationMax, AggregationUnique:
		return true
	default:
		return false
	}
}

// Metric defines how events of one name reduce to a single quantity.
type Metric struct {
	ID             string
	OrganizationID string
	Name           string
	EventName      string
	PropertyName   string // empty for count
	Aggregation    Aggregation
}

// Validate checks the metric against its aggregation kind.
// This is a PURE function.
func (m Metric) Validate() error {
	if m.EventName == "" {
		return fmt.Errorf("%w: metric %s has no event name", ErrInvalidMetricConfig, m.ID)
	}
	if !m.Aggregation.Valid() {
		return fmt.Errorf("%w: metric %s has unknown aggregation %q", ErrInvalidMetricConfig, m.ID, m.Aggregation)
	}
	if m.Aggregation.RequiresProperty() && m.PropertyName == "" {
		return fmt.Errorf("%w: metric %s uses %s without a property name", ErrInvalidMetricConfig, m.ID, m.Aggregation)
	}
	return nil
}
