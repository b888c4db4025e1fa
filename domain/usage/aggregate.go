package usage

import "github.com/shopspring/decimal"

// Result is the outcome of aggregating one metric.
type Result struct {
	Metric     Metric
	Quantity   decimal.Decimal
	Matched    int // events that passed the selection
	Used       int // events that contributed to Quantity
	Missing    int // matched events without the property
	NonNumeric int // matched events whose property was a string (sum/max only)
}

// Accumulator reduces a stream of events into a Result for one metric.
// It is not safe for concurrent use.
type Accumulator struct {
	metric   Metric
	result   Result
	hasValue bool
	seen     map[string]struct{}
}

// NewAccumulator returns an accumulator for m, or ErrInvalidMetricConfig.
func NewAccumulator(m Metric) (*Accumulator, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	a := &Accumulator{
		metric: m,
		result: Result{Metric: m, Quantity: decimal.Zero},
	}
	if m.Aggregation == AggregationUnique {
		a.seen = make(map[string]struct{})
	}
	return a, nil
}

// Add folds one event into the accumulator.
// Events that do not belong to the metric's event name are ignored; organization,
// customer and time filtering is the caller's job (see Matches).
func (a *Accumulator) Add(e Event) {
	if e.Name != a.metric.EventName {
		return
	}
	a.result.Matched++

	if a.metric.Aggregation == AggregationCount {
		a.result.Used++
		a.result.Quantity = a.result.Quantity.Add(decimal.NewFromInt(1))
		return
	}

	v, ok := e.Property(a.metric.PropertyName)
	if !ok {
		a.result.Missing++
		return
	}

	if a.metric.Aggregation == AggregationUnique {
		a.result.Used++
		a.seen[v.key()] = struct{}{}
		return
	}

	d, ok := v.Decimal()
	if !ok {
		a.result.NonNumeric++
		return
	}
	a.result.Used++

	switch a.metric.Aggregation {
	case AggregationSum:
		a.result.Quantity = a.result.Quantity.Add(d)
	case AggregationMax:
		if !a.hasValue || d.GreaterThan(a.result.Quantity) {
			a.result.Quantity = d
			a.hasValue = true
		}
	}
}

// Result returns the aggregate so far.
func (a *Accumulator) Result() Result {
	r := a.result
	if a.metric.Aggregation == AggregationUnique {
		r.Quantity = decimal.NewFromInt(int64(len(a.seen)))
	}
	return r
}

// Matches reports whether e is selected by a query for the given organization,
// customer, event name and window.
// This is a PURE function.
func Matches(e Event, organizationID, customerID, eventName string, w Window) bool {
	return e.OrganizationID == organizationID &&
		e.CustomerID == customerID &&
		e.Name == eventName &&
		w.Contains(e.TimeCreated)
}

// Aggregate reduces events into a Result for m. Events are assumed to be
// already selected for the organization, customer and window.
// This is a PURE function.
func Aggregate(m Metric, events []Event) (Result, error) {
	acc, err := NewAccumulator(m)
	if err != nil {
		return Result{}, err
	}
	for _, e := range events {
		acc.Add(e)
	}
	return acc.Result(), nil
}
