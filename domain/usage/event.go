// Package usage provides usage event types and metric aggregation.
// All functions are pure - no side effects.
package usage

import "time"

// Event is a single recorded usage event (immutable value type).
type Event struct {
	ID             string
	OrganizationID string
	CustomerID     string
	Name           string
	TimeCreated    time.Time
	Properties     map[string]Value
}

// Property returns the named property. The second result is false when the
// property is absent or holds an invalid value.
func (e Event) Property(name string) (Value, bool) {
	v, ok := e.Properties[name]
	if !ok || !v.IsValid() {
		return Value{}, false
	}
	return v, true
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsEmpty reports whether the window contains no instant.
func (w Window) IsEmpty() bool {
	return !w.Start.Before(w.End)
}

// Narrow intersects w with the optional bounds. Nil bounds leave the
// corresponding side unchanged.
func (w Window) Narrow(start, end *time.Time) Window {
	if start != nil && start.After(w.Start) {
		w.Start = *start
	}
	if end != nil && end.Before(w.End) {
		w.End = *end
	}
	return w
}
