package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/artpar/usagebill/domain/usage"
	"github.com/artpar/usagebill/ports"
)

// EventStore implements ports.EventStore and ports.EventRecorder using SQLite.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new SQLite event store.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// RecordEvents inserts events in a single transaction.
func (s *EventStore) RecordEvents(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(ctx, "begin record events", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, organization_id, customer_id, name, time_created, properties)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return storeErr(ctx, "prepare record events", err)
	}
	defer stmt.Close()

	for _, e := range events {
		props, err := encodeProperties(e.Properties)
		if err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.OrganizationID, e.CustomerID, e.Name, e.TimeCreated.UnixNano(), props,
		); err != nil {
			return writeErr(ctx, "insert event "+e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(ctx, "commit record events", err)
	}
	return nil
}

// FindEvents streams matching events ordered by time_created, id.
// Errors returned by visit are passed through unchanged.
func (s *EventStore) FindEvents(ctx context.Context, q ports.EventQuery, visit func(usage.Event) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, customer_id, name, time_created, properties
		FROM events
		WHERE organization_id = ? AND customer_id = ? AND name = ?
		  AND time_created >= ? AND time_created < ?
		ORDER BY time_created, id
	`, q.OrganizationID, q.CustomerID, q.EventName, q.Window.Start.UnixNano(), q.Window.End.UnixNano())
	if err != nil {
		return storeErr(ctx, "query events", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e usage.Event
		var created int64
		var props string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.CustomerID, &e.Name, &created, &props); err != nil {
			return storeErr(ctx, "scan event", err)
		}
		e.TimeCreated = time.Unix(0, created).UTC()
		if e.Properties, err = decodeProperties(props); err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
		if err := visit(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storeErr(ctx, "iterate events", err)
	}
	return nil
}

func encodeProperties(p map[string]usage.Value) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(b), nil
}

func decodeProperties(raw string) (map[string]usage.Value, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var p map[string]usage.Value
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return p, nil
}

var (
	_ ports.EventStore    = (*EventStore)(nil)
	_ ports.EventRecorder = (*EventStore)(nil)
)
