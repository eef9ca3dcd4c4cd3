package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateSubscription inserts a subscription, deactivating any currently
// active subscription of the same user for the same location key first, so
// at most one active subscription exists per (user, location). Runs in one
// transaction.
func (s *Store) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	now := time.Now().UTC()
	created := sub.CreatedAt
	if created.IsZero() {
		created = now
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Subscription{}, err
	}
	defer tx.Rollback()

	// Location key: coordinates rounded to ~11m.
	_, err = tx.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = 0, updated_at = ?
		 WHERE user_id = ? AND is_active = 1
		   AND ROUND(latitude, 4) = ROUND(?, 4) AND ROUND(longitude, 4) = ROUND(?, 4)`,
		ms(now), sub.UserID, sub.Latitude, sub.Longitude)
	if err != nil {
		return Subscription{}, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, latitude, longitude, expiry_date, mute_start, mute_end,
		                           auto_safety_net, is_active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,1,?,?)`,
		sub.UserID, sub.Latitude, sub.Longitude, nullableMS(sub.ExpiryDate),
		sub.MuteStart, sub.MuteEnd, sub.AutoSafetyNet, ms(created), ms(now))
	if err != nil {
		return Subscription{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Subscription{}, err
	}
	if err := tx.Commit(); err != nil {
		return Subscription{}, err
	}

	sub.ID = id
	sub.IsActive = true
	sub.CreatedAt = created
	sub.UpdatedAt = now
	return sub, nil
}

// DeactivateSubscription soft-deletes (cancellation and expiry both land here).
func (s *Store) DeactivateSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = 0, updated_at = ? WHERE id = ?`,
		ms(time.Now().UTC()), id)
	return err
}

func (s *Store) UpdateQuietHours(ctx context.Context, id int64, muteStart, muteEnd int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET mute_start = ?, mute_end = ?, updated_at = ? WHERE id = ?`,
		muteStart, muteEnd, ms(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSubscriptionReading stores the last observed AQI and, when notifiedAt
// is non-nil, the last notification time. Called once per dispatch decision.
func (s *Store) UpdateSubscriptionReading(ctx context.Context, id int64, lastAQI int, notifiedAt *time.Time) error {
	if notifiedAt != nil {
		_, err := s.db.ExecContext(ctx,
			`UPDATE subscriptions SET last_aqi_level = ?, last_notified_at = ?, updated_at = ? WHERE id = ?`,
			lastAQI, ms(*notifiedAt), ms(time.Now().UTC()), id)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_aqi_level = ?, updated_at = ? WHERE id = ?`,
		lastAQI, ms(time.Now().UTC()), id)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	row := s.db.QueryRowContext(ctx, subscriptionColumns+` WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	return sub, err
}

// ActiveSubscriptions returns every is_active=1 subscription. Expiry and
// quiet hours are derived at read time by the caller, never persisted.
func (s *Store) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, subscriptionColumns+` WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveSubscriptions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE is_active = 1`).Scan(&n)
	return n, err
}

// CountSubscriptionsCreatedBefore reports the all-time subscription total as
// of a snapshot timestamp.
func (s *Store) CountSubscriptionsCreatedBefore(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE created_at < ?`, ms(before)).Scan(&n)
	return n, err
}

func (s *Store) CountSubscriptionsCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE created_at >= ? AND created_at < ?`,
		ms(start), ms(end)).Scan(&n)
	return n, err
}

// CountSubscriptionsExpiredBetween counts subscriptions whose expiry date
// fell inside the window and which are no longer active.
func (s *Store) CountSubscriptionsExpiredBetween(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions
		 WHERE expiry_date IS NOT NULL AND expiry_date >= ? AND expiry_date < ? AND is_active = 0`,
		ms(start), ms(end)).Scan(&n)
	return n, err
}

const subscriptionColumns = `SELECT id, user_id, latitude, longitude, expiry_date, mute_start, mute_end,
       auto_safety_net, last_notified_at, last_aqi_level, is_active, created_at, updated_at
FROM subscriptions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var (
		sub                  Subscription
		expiryMS, notifiedMS sql.NullInt64
		lastAQI              sql.NullInt64
		createdMS, updatedMS int64
	)
	err := r.Scan(&sub.ID, &sub.UserID, &sub.Latitude, &sub.Longitude, &expiryMS,
		&sub.MuteStart, &sub.MuteEnd, &sub.AutoSafetyNet, &notifiedMS, &lastAQI,
		&sub.IsActive, &createdMS, &updatedMS)
	if err != nil {
		return Subscription{}, err
	}
	if expiryMS.Valid {
		t := fromMS(expiryMS.Int64)
		sub.ExpiryDate = &t
	}
	if notifiedMS.Valid {
		t := fromMS(notifiedMS.Int64)
		sub.LastNotifiedAt = &t
	}
	if lastAQI.Valid {
		v := int(lastAQI.Int64)
		sub.LastAQI = &v
	}
	sub.CreatedAt = fromMS(createdMS)
	sub.UpdatedAt = fromMS(updatedMS)
	return sub, nil
}
