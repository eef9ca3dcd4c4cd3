package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Stats tables are keyed by calendar day and written with upserts, so
// re-archiving a day overwrites rather than duplicates.

func (s *Store) UpsertDailyUserStats(ctx context.Context, st DailyUserStats) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_user_stats(date, total_users, new_users, active_users, returning_users,
		                              total_messages, avg_messages_per_user, air_checks, unique_air_checkers,
		                              created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(date) DO UPDATE SET
		   total_users=excluded.total_users,
		   new_users=excluded.new_users,
		   active_users=excluded.active_users,
		   returning_users=excluded.returning_users,
		   total_messages=excluded.total_messages,
		   avg_messages_per_user=excluded.avg_messages_per_user,
		   air_checks=excluded.air_checks,
		   unique_air_checkers=excluded.unique_air_checkers,
		   updated_at=excluded.updated_at`,
		dayKey(st.Date), st.TotalUsers, st.NewUsers, st.ActiveUsers, st.ReturningUsers,
		st.TotalMessages, st.AvgMessagesPerUser, st.AirChecks, st.UniqueAirCheckers,
		ms(now), ms(now))
	return err
}

func (s *Store) UpsertFeatureUsage(ctx context.Context, st FeatureUsageStats) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_usage_stats(date, feature_name, usage_count, unique_users, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(date, feature_name) DO UPDATE SET
		   usage_count=excluded.usage_count,
		   unique_users=excluded.unique_users,
		   updated_at=excluded.updated_at`,
		dayKey(st.Date), st.FeatureName, st.UsageCount, st.UniqueUsers, ms(now), ms(now))
	return err
}

// UpsertSubscriptionStats writes one day's subscription aggregates. The
// notifications_* fields of st are DELTAS: on conflict they are added to the
// stored counters instead of replacing them, so an archive re-run that flushed
// its accumulator already contributes zero. Every other field replaces.
func (s *Store) UpsertSubscriptionStats(ctx context.Context, st SubscriptionStats) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscription_stats(date, new_subscriptions, cancelled_subscriptions, active_subscriptions,
		                                total_subscriptions, expired_subscriptions, conversion_rate,
		                                subscription_views, subscription_conversions,
		                                notifications_sent, notifications_delivered, notifications_failed,
		                                created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(date) DO UPDATE SET
		   new_subscriptions=excluded.new_subscriptions,
		   cancelled_subscriptions=excluded.cancelled_subscriptions,
		   active_subscriptions=excluded.active_subscriptions,
		   total_subscriptions=excluded.total_subscriptions,
		   expired_subscriptions=excluded.expired_subscriptions,
		   conversion_rate=excluded.conversion_rate,
		   subscription_views=excluded.subscription_views,
		   subscription_conversions=excluded.subscription_conversions,
		   notifications_sent=notifications_sent+excluded.notifications_sent,
		   notifications_delivered=notifications_delivered+excluded.notifications_delivered,
		   notifications_failed=notifications_failed+excluded.notifications_failed,
		   updated_at=excluded.updated_at`,
		dayKey(st.Date), st.NewSubscriptions, st.CancelledSubscriptions, st.ActiveSubscriptions,
		st.TotalSubscriptions, st.ExpiredSubscriptions, st.ConversionRate,
		st.SubscriptionViews, st.SubscriptionConversions,
		st.NotificationsSent, st.NotificationsDelivered, st.NotificationsFailed,
		ms(now), ms(now))
	return err
}

func (s *Store) UpsertUserRetention(ctx context.Context, st UserRetention) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_retention(cohort_date, day_number, cohort_size, retained_users, retention_rate,
		                            created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(cohort_date, day_number) DO UPDATE SET
		   cohort_size=excluded.cohort_size,
		   retained_users=excluded.retained_users,
		   retention_rate=excluded.retention_rate,
		   updated_at=excluded.updated_at`,
		dayKey(st.CohortDate), st.DayNumber, st.CohortSize, st.RetainedUsers, st.RetentionRate,
		ms(now), ms(now))
	return err
}

func (s *Store) GetDailyUserStats(ctx context.Context, date time.Time) (DailyUserStats, error) {
	var (
		st                   DailyUserStats
		key                  string
		createdMS, updatedMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT date, total_users, new_users, active_users, returning_users,
		        total_messages, avg_messages_per_user, air_checks, unique_air_checkers,
		        created_at, updated_at
		 FROM daily_user_stats WHERE date = ?`, dayKey(date),
	).Scan(&key, &st.TotalUsers, &st.NewUsers, &st.ActiveUsers, &st.ReturningUsers,
		&st.TotalMessages, &st.AvgMessagesPerUser, &st.AirChecks, &st.UniqueAirCheckers,
		&createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyUserStats{}, ErrNotFound
	}
	if err != nil {
		return DailyUserStats{}, err
	}
	st.Date, _ = time.Parse(time.DateOnly, key)
	st.CreatedAt = fromMS(createdMS)
	st.UpdatedAt = fromMS(updatedMS)
	return st, nil
}

func (s *Store) GetSubscriptionStats(ctx context.Context, date time.Time) (SubscriptionStats, error) {
	var (
		st                   SubscriptionStats
		key                  string
		createdMS, updatedMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT date, new_subscriptions, cancelled_subscriptions, active_subscriptions,
		        total_subscriptions, expired_subscriptions, conversion_rate,
		        subscription_views, subscription_conversions,
		        notifications_sent, notifications_delivered, notifications_failed,
		        created_at, updated_at
		 FROM subscription_stats WHERE date = ?`, dayKey(date),
	).Scan(&key, &st.NewSubscriptions, &st.CancelledSubscriptions, &st.ActiveSubscriptions,
		&st.TotalSubscriptions, &st.ExpiredSubscriptions, &st.ConversionRate,
		&st.SubscriptionViews, &st.SubscriptionConversions,
		&st.NotificationsSent, &st.NotificationsDelivered, &st.NotificationsFailed,
		&createdMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		return SubscriptionStats{}, ErrNotFound
	}
	if err != nil {
		return SubscriptionStats{}, err
	}
	st.Date, _ = time.Parse(time.DateOnly, key)
	st.CreatedAt = fromMS(createdMS)
	st.UpdatedAt = fromMS(updatedMS)
	return st, nil
}

func (s *Store) FeatureUsageFor(ctx context.Context, date time.Time) ([]FeatureUsageStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, feature_name, usage_count, unique_users, created_at, updated_at
		 FROM feature_usage_stats WHERE date = ? ORDER BY feature_name`, dayKey(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeatureUsageStats
	for rows.Next() {
		var (
			st                   FeatureUsageStats
			key                  string
			createdMS, updatedMS int64
		)
		if err := rows.Scan(&key, &st.FeatureName, &st.UsageCount, &st.UniqueUsers, &createdMS, &updatedMS); err != nil {
			return nil, err
		}
		st.Date, _ = time.Parse(time.DateOnly, key)
		st.CreatedAt = fromMS(createdMS)
		st.UpdatedAt = fromMS(updatedMS)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) RetentionForCohort(ctx context.Context, cohortDate time.Time) ([]UserRetention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cohort_date, day_number, cohort_size, retained_users, retention_rate, created_at, updated_at
		 FROM user_retention WHERE cohort_date = ? ORDER BY day_number`, dayKey(cohortDate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRetention
	for rows.Next() {
		var (
			st                   UserRetention
			key                  string
			createdMS, updatedMS int64
		)
		if err := rows.Scan(&st.ID, &key, &st.DayNumber, &st.CohortSize, &st.RetainedUsers,
			&st.RetentionRate, &createdMS, &updatedMS); err != nil {
			return nil, err
		}
		st.CohortDate, _ = time.Parse(time.DateOnly, key)
		st.CreatedAt = fromMS(createdMS)
		st.UpdatedAt = fromMS(updatedMS)
		out = append(out, st)
	}
	return out, rows.Err()
}
