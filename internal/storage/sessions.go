package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// StartSession opens a safety-net session, superseding any still-running
// session on the same subscription in the same transaction. Supersede means
// the old row's expiry is clamped to now; history stays in the table.
func (s *Store) StartSession(ctx context.Context, sess SafetyNetSession) (SafetyNetSession, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SafetyNetSession{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE safety_net_sessions SET session_expiry = ?
		 WHERE subscription_id = ? AND session_expiry > ?`,
		ms(now), sess.SubscriptionID, ms(now))
	if err != nil {
		return SafetyNetSession{}, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO safety_net_sessions(user_id, subscription_id, start_aqi, session_expiry, created_at)
		 VALUES(?,?,?,?,?)`,
		sess.UserID, sess.SubscriptionID, sess.StartAQI, ms(sess.SessionExpiry), ms(now))
	if err != nil {
		return SafetyNetSession{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SafetyNetSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return SafetyNetSession{}, err
	}

	sess.ID = id
	sess.CreatedAt = now
	return sess, nil
}

// ActiveSessionFor returns the running session on a subscription, if any.
// At most one can exist because StartSession supersedes.
func (s *Store) ActiveSessionFor(ctx context.Context, subscriptionID int64, now time.Time) (SafetyNetSession, error) {
	row := s.db.QueryRowContext(ctx,
		sessionColumns+` WHERE subscription_id = ? AND session_expiry > ?
		 ORDER BY id DESC LIMIT 1`,
		subscriptionID, ms(now))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SafetyNetSession{}, ErrNotFound
	}
	return sess, err
}

// ActiveSessions returns every session whose expiry is still in the future.
func (s *Store) ActiveSessions(ctx context.Context, now time.Time) ([]SafetyNetSession, error) {
	rows, err := s.db.QueryContext(ctx,
		sessionColumns+` WHERE session_expiry > ? ORDER BY id`, ms(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SafetyNetSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// InvalidateSession ends a session now. Used after a session fires its alert:
// one alert per session, then it is done.
func (s *Store) InvalidateSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE safety_net_sessions SET session_expiry = ? WHERE id = ?`,
		ms(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `SELECT id, user_id, subscription_id, start_aqi, session_expiry, created_at
FROM safety_net_sessions`

func scanSession(r rowScanner) (SafetyNetSession, error) {
	var (
		sess                SafetyNetSession
		expiryMS, createdMS int64
	)
	err := r.Scan(&sess.ID, &sess.UserID, &sess.SubscriptionID, &sess.StartAQI, &expiryMS, &createdMS)
	if err != nil {
		return SafetyNetSession{}, err
	}
	sess.SessionExpiry = fromMS(expiryMS)
	sess.CreatedAt = fromMS(createdMS)
	return sess, nil
}
