package persistence

import (
	"context"
	"fmt"
	"time"
)

// GatewayEvent is one row of the lifecycle ledger.
type GatewayEvent struct {
	ID        int64     `json:"id"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	TraceID   string    `json:"trace_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendEvent records a lifecycle event. payload is pre-serialized (and
// pre-redacted) JSON.
func (s *Store) AppendEvent(ctx context.Context, topic, payload, traceID string) error {
	if payload == "" {
		payload = "{}"
	}
	if traceID == "" {
		traceID = "-"
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO gateway_events (topic, payload_json, trace_id) VALUES (?, ?, ?);`,
			topic, payload, traceID)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
}

// ListEvents returns the most recent events, newest first, optionally
// filtered to a topic prefix.
func (s *Store) ListEvents(ctx context.Context, topicPrefix string, limit int) ([]GatewayEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, payload_json, trace_id, created_at
		FROM gateway_events
		WHERE topic LIKE ? || '%'
		ORDER BY id DESC LIMIT ?;
	`, topicPrefix, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []GatewayEvent
	for rows.Next() {
		var ev GatewayEvent
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Payload, &ev.TraceID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TotalEventCount returns the ledger size.
func (s *Store) TotalEventCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gateway_events;`).Scan(&n)
	return n, err
}

// RetentionResult reports what a retention sweep removed.
type RetentionResult struct {
	EventsDeleted int64 `json:"events_deleted"`
}

// RunRetention deletes events older than the given number of days.
func (s *Store) RunRetention(ctx context.Context, eventDays int) (RetentionResult, error) {
	var result RetentionResult
	if eventDays <= 0 {
		return result, nil
	}
	cutoff := time.Now().AddDate(0, 0, -eventDays)
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM gateway_events WHERE created_at < ?;`, cutoff)
		if err != nil {
			return fmt.Errorf("retention sweep: %w", err)
		}
		result.EventsDeleted, _ = res.RowsAffected()
		return nil
	})
	return result, err
}
