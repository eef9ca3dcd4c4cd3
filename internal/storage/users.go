package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertUser creates the user on first contact and refreshes profile fields
// afterwards. Onboarding flags are intentionally not touched here: they flip
// monotonically via SetOnboardingSeen and never reverse.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	now := time.Now().UTC()
	created := u.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, first_name, last_name, language_code, is_active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username=excluded.username,
		   first_name=excluded.first_name,
		   last_name=excluded.last_name,
		   language_code=excluded.language_code,
		   is_active=excluded.is_active,
		   updated_at=excluded.updated_at`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName),
		u.LanguageCode, u.IsActive, ms(created), ms(now),
	)
	return err
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var (
		u                     User
		username, first, last sql.NullString
		createdMS, updatedMS  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, first_name, last_name, language_code, is_active,
		        seen_check_onboarding, seen_subscribe_onboarding, created_at, updated_at
		 FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &username, &first, &last, &u.LanguageCode, &u.IsActive,
		&u.SeenCheckOnboarding, &u.SeenSubscribeOnboarding, &createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.FirstName = first.String
	u.LastName = last.String
	u.CreatedAt = fromMS(createdMS)
	u.UpdatedAt = fromMS(updatedMS)
	return u, nil
}

// SetOnboardingSeen flips onboarding flags forward only (false -> true).
func (s *Store) SetOnboardingSeen(ctx context.Context, userID int64, check, subscribe bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET
		   seen_check_onboarding = seen_check_onboarding OR ?,
		   seen_subscribe_onboarding = seen_subscribe_onboarding OR ?,
		   updated_at = ?
		 WHERE id = ?`,
		check, subscribe, ms(time.Now().UTC()), userID,
	)
	return err
}

// CountUsersCreatedBefore reports the user total as of a snapshot timestamp,
// so re-archiving a past day reproduces that day's figure.
func (s *Store) CountUsersCreatedBefore(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE created_at < ?`, ms(before)).Scan(&n)
	return n, err
}

func (s *Store) CountUsersCreatedBetween(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE created_at >= ? AND created_at < ?`,
		ms(start), ms(end)).Scan(&n)
	return n, err
}

// UserIDsCreatedBetween returns one registration cohort.
func (s *Store) UserIDsCreatedBetween(ctx context.Context, start, end time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM users WHERE created_at >= ? AND created_at < ? ORDER BY id`,
		ms(start), ms(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
