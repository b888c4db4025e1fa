package memory

import (
	"context"
	"fmt"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/ports"
)

// CreatePlanVersion stores v, resolving each component's metric by ID.
func (s *Store) CreatePlanVersion(ctx context.Context, v plan.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[v.ID]; ok {
		return fmt.Errorf("plan version %s: %w", v.ID, ports.ErrDuplicate)
	}

	components := make([]plan.Component, len(v.Components))
	for i, c := range v.Components {
		m, ok := s.metrics[c.Metric.ID]
		if !ok {
			return fmt.Errorf("component %s metric %s: %w", c.ID, c.Metric.ID, ports.ErrNotFound)
		}
		c.Metric = m
		components[i] = c
	}
	v.Components = components
	s.versions[v.ID] = v
	return nil
}

// GetPlanVersion returns a plan version with its components and adjustment.
func (s *Store) GetPlanVersion(ctx context.Context, id string) (plan.Version, error) {
	if err := ctx.Err(); err != nil {
		return plan.Version{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return plan.Version{}, fmt.Errorf("plan version %s: %w", id, ports.ErrNotFound)
	}
	v.Components = append([]plan.Component(nil), v.Components...)
	return v, nil
}

// SetPriceAdjustment replaces the adjustment of a plan version.
func (s *Store) SetPriceAdjustment(ctx context.Context, versionID string, adj billing.PriceAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return fmt.Errorf("plan version %s: %w", versionID, ports.ErrNotFound)
	}
	v.Adjustment = adj
	v.Revision++
	s.versions[versionID] = v
	return nil
}

// PlanVersionRevision returns the adjustment revision of a plan version.
func (s *Store) PlanVersionRevision(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return 0, fmt.Errorf("plan version %s: %w", id, ports.ErrNotFound)
	}
	return v.Revision, nil
}
