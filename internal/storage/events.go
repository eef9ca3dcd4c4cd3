package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AppendEvent appends one row to the user_events log. The log is append-only;
// retention/cleanup belongs to an external job, never to this process.
func (s *Store) AppendEvent(ctx context.Context, e UserEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_events(user_id, event_type, event_data, timestamp, session_id)
		 VALUES(?,?,?,?,?)`,
		e.UserID, e.EventType, nullStr(e.EventData), ms(e.Timestamp), nullStr(e.SessionID),
	)
	return err
}

// EventsInRange streams events with timestamp in [start, end), ordered by
// timestamp, to fn. eventType "" matches all types. fn returning an error
// stops the scan. The scan is restartable: calling again re-reads from the
// beginning of the range.
func (s *Store) EventsInRange(ctx context.Context, start, end time.Time, eventType string, fn func(UserEvent) error) error {
	q := `SELECT id, user_id, event_type, event_data, timestamp, session_id
	      FROM user_events WHERE timestamp >= ? AND timestamp < ?`
	args := []any{ms(start), ms(end)}
	if eventType != "" {
		q += ` AND event_type = ?`
		args = append(args, eventType)
	}
	q += ` ORDER BY timestamp, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e               UserEvent
			data, sessionID sql.NullString
			tsMS            int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &data, &tsMS, &sessionID); err != nil {
			return err
		}
		e.EventData = data.String
		e.SessionID = sessionID.String
		e.Timestamp = fromMS(tsMS)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountEvents counts events in [start, end); eventType "" matches all.
func (s *Store) CountEvents(ctx context.Context, start, end time.Time, eventType string) (int, error) {
	q := `SELECT COUNT(*) FROM user_events WHERE timestamp >= ? AND timestamp < ?`
	args := []any{ms(start), ms(end)}
	if eventType != "" {
		q += ` AND event_type = ?`
		args = append(args, eventType)
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

// CountDistinctEventUsers counts distinct user_ids with events in [start, end).
func (s *Store) CountDistinctEventUsers(ctx context.Context, start, end time.Time, eventType string) (int, error) {
	q := `SELECT COUNT(DISTINCT user_id) FROM user_events WHERE timestamp >= ? AND timestamp < ?`
	args := []any{ms(start), ms(end)}
	if eventType != "" {
		q += ` AND event_type = ?`
		args = append(args, eventType)
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

// CountReturningUsers counts users active in [start, end) who were also
// active in the preceding window of the same length.
func (s *Store) CountReturningUsers(ctx context.Context, start, end time.Time) (int, error) {
	prevStart := start.Add(-end.Sub(start))
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM user_events
		 WHERE timestamp >= ? AND timestamp < ?
		   AND user_id IN (
		     SELECT user_id FROM user_events WHERE timestamp >= ? AND timestamp < ?
		   )`,
		ms(start), ms(end), ms(prevStart), ms(start)).Scan(&n)
	return n, err
}

// CountRetainedUsers counts how many of the given cohort had any event in
// [start, end).
func (s *Store) CountRetainedUsers(ctx context.Context, cohort []int64, start, end time.Time) (int, error) {
	if len(cohort) == 0 {
		return 0, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(cohort)), ",")
	q := fmt.Sprintf(
		`SELECT COUNT(DISTINCT user_id) FROM user_events
		 WHERE timestamp >= ? AND timestamp < ? AND user_id IN (%s)`, ph)
	args := make([]any, 0, len(cohort)+2)
	args = append(args, ms(start), ms(end))
	for _, id := range cohort {
		args = append(args, id)
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

// EventTypeCounts aggregates usage per event_type inside [start, end).
func (s *Store) EventTypeCounts(ctx context.Context, start, end time.Time) ([]FeatureCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*), COUNT(DISTINCT user_id)
		 FROM user_events WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY event_type ORDER BY event_type`,
		ms(start), ms(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeatureCount
	for rows.Next() {
		var fc FeatureCount
		if err := rows.Scan(&fc.Feature, &fc.UsageCount, &fc.UniqueUsers); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}
