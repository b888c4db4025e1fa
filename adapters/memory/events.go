package memory

import (
	"context"
	"sort"

	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// RecordEvents appends events. Properties maps are copied.
func (s *Store) RecordEvents(ctx context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[customerKey]bool)
	for _, e := range events {
		k := customerKey{e.OrganizationID, e.CustomerID}
		e.Properties = copyProperties(e.Properties)
		s.events[k] = append(s.events[k], e)
		touched[k] = true
	}
	for k := range touched {
		list := s.events[k]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].TimeCreated.Before(list[j].TimeCreated)
		})
	}
	return nil
}

// FindEvents visits matching events in time order. The visitor runs without
// the store lock held.
func (s *Store) FindEvents(ctx context.Context, q ports.EventQuery, visit func(usage.Event) error) error {
	s.mu.RLock()
	var matched []usage.Event
	for _, e := range s.events[customerKey{q.OrganizationID, q.CustomerID}] {
		if usage.Matches(e, q.OrganizationID, q.CustomerID, q.EventName, q.Window) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	for i, e := range matched {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := visit(e); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// EventCount returns the number of stored events (for testing).
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, list := range s.events {
		n += len(list)
	}
	return n
}

func copyProperties(p map[string]usage.Value) map[string]usage.Value {
	if p == nil {
		return nil
	}
	out := make(map[string]usage.Value, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
