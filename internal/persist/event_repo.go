package persist

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventRow is one append-only narrative record: deaths, arrests, purchases,
// petitions, arrivals, departures.
type EventRow struct {
	ResidentID int64 // 0 for world-level events
	Kind       string
	WorldTime  float64
	Payload    json.RawMessage
}

type EventRepo struct {
	db *DB
}

func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Append(ctx context.Context, e *EventRow) error {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	var residentID any
	if e.ResidentID != 0 {
		residentID = e.ResidentID
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO events (resident_id, kind, world_time, payload) VALUES ($1, $2, $3, $4)`,
		residentID, e.Kind, e.WorldTime, payload)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent returns the newest events for the public feed, newest first.
func (r *EventRepo) Recent(ctx context.Context, limit int) ([]EventRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT COALESCE(resident_id, 0), kind, world_time, payload
		 FROM events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ResidentID, &e.Kind, &e.WorldTime, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
