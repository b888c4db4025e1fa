package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// PlanStore implements ports.PlanStore, ports.PlanWriter and ports.MetricStore
// using SQLite.
type PlanStore struct {
	db *DB
}

// NewPlanStore creates a new SQLite plan store.
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

// CreateMetric stores a billable metric.
func (s *PlanStore) CreateMetric(ctx context.Context, m usage.Metric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billable_metrics (id, organization_id, name, event_name, property_name, aggregation)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.OrganizationID, m.Name, m.EventName, m.PropertyName, string(m.Aggregation))
	if err != nil {
		return writeErr(ctx, "insert metric "+m.ID, err)
	}
	return nil
}

// GetMetric retrieves a metric by ID.
func (s *PlanStore) GetMetric(ctx context.Context, id string) (usage.Metric, error) {
	var m usage.Metric
	var agg string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, event_name, property_name, aggregation
		FROM billable_metrics
		WHERE id = ?
	`, id).Scan(&m.ID, &m.OrganizationID, &m.Name, &m.EventName, &m.PropertyName, &agg)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.Metric{}, fmt.Errorf("metric %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return usage.Metric{}, storeErr(ctx, "get metric", err)
	}
	m.Aggregation = usage.Aggregation(agg)
	return m, nil
}

// CreatePlanVersion stores a plan version and its components in one transaction.
func (s *PlanStore) CreatePlanVersion(ctx context.Context, v plan.Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(ctx, "begin create plan version", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plan_versions (
			id, organization_id, plan_name, version,
			adjustment_type, adjustment_amount, adjustment_name, adjustment_description,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		v.ID, v.OrganizationID, v.PlanName, v.Version,
		string(v.Adjustment.Type), v.Adjustment.Amount, v.Adjustment.Name, v.Adjustment.Description,
		v.CreatedAt.UTC(),
	)
	if err != nil {
		return writeErr(ctx, "insert plan version "+v.ID, err)
	}

	for _, c := range v.Components {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO plan_components (
				id, plan_version_id, metric_id, free_units, cost_per_batch, units_per_batch, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.ID, v.ID, c.Metric.ID, c.FreeUnits, c.CostPerBatch, c.UnitsPerBatch, c.CreatedAt.UTC())
		if err != nil {
			return writeErr(ctx, "insert plan component "+c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(ctx, "commit plan version", err)
	}
	return nil
}

// GetPlanVersion loads a plan version with its components, metrics and adjustment.
func (s *PlanStore) GetPlanVersion(ctx context.Context, id string) (plan.Version, error) {
	var v plan.Version
	var adjType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, plan_name, version,
		       adjustment_type, adjustment_amount, adjustment_name, adjustment_description,
		       revision, created_at
		FROM plan_versions
		WHERE id = ?
	`, id).Scan(
		&v.ID, &v.OrganizationID, &v.PlanName, &v.Version,
		&adjType, &v.Adjustment.Amount, &v.Adjustment.Name, &v.Adjustment.Description,
		&v.Revision, &v.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Version{}, fmt.Errorf("plan version %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return plan.Version{}, storeErr(ctx, "get plan version", err)
	}
	v.Adjustment.Type = billing.AdjustmentType(adjType)
	if v.Adjustment.IsNone() {
		v.Adjustment.Amount = decimal.Zero
	}

	v.Components, err = s.components(ctx, id)
	if err != nil {
		return plan.Version{}, err
	}
	return v, nil
}

func (s *PlanStore) components(ctx context.Context, versionID string) ([]plan.Component, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.free_units, c.cost_per_batch, c.units_per_batch, c.created_at,
		       m.id, m.organization_id, m.name, m.event_name, m.property_name, m.aggregation
		FROM plan_components c
		JOIN billable_metrics m ON m.id = c.metric_id
		WHERE c.plan_version_id = ?
		ORDER BY c.created_at, c.id
	`, versionID)
	if err != nil {
		return nil, storeErr(ctx, "query plan components", err)
	}
	defer rows.Close()

	var out []plan.Component
	for rows.Next() {
		var c plan.Component
		var agg string
		if err := rows.Scan(
			&c.ID, &c.FreeUnits, &c.CostPerBatch, &c.UnitsPerBatch, &c.CreatedAt,
			&c.Metric.ID, &c.Metric.OrganizationID, &c.Metric.Name, &c.Metric.EventName, &c.Metric.PropertyName, &agg,
		); err != nil {
			return nil, storeErr(ctx, "scan plan component", err)
		}
		c.Metric.Aggregation = usage.Aggregation(agg)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(ctx, "iterate plan components", err)
	}
	return out, nil
}

// PlanVersionRevision returns the adjustment revision of a plan version.
func (s *PlanStore) PlanVersionRevision(ctx context.Context, id string) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `SELECT revision FROM plan_versions WHERE id = ?`, id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("plan version %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return 0, storeErr(ctx, "get plan version revision", err)
	}
	return rev, nil
}

// SetPriceAdjustment replaces the adjustment of a plan version and bumps its
// revision.
func (s *PlanStore) SetPriceAdjustment(ctx context.Context, versionID string, adj billing.PriceAdjustment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE plan_versions
		SET adjustment_type = ?, adjustment_amount = ?, adjustment_name = ?, adjustment_description = ?,
		    revision = revision + 1
		WHERE id = ?
	`, string(adj.Type), adj.Amount, adj.Name, adj.Description, versionID)
	if err != nil {
		return storeErr(ctx, "update price adjustment", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return storeErr(ctx, "update price adjustment", err)
	}
	if n == 0 {
		return fmt.Errorf("plan version %s: %w", versionID, ports.ErrNotFound)
	}
	return nil
}

var (
	_ ports.PlanStore   = (*PlanStore)(nil)
	_ ports.PlanWriter  = (*PlanStore)(nil)
	_ ports.MetricStore = (*PlanStore)(nil)
)
