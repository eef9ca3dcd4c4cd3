package analytics

import (
	"context"
	"fmt"
	"time"

	"auabot/internal/storage"
	logx "auabot/pkg/logx"
)

// retentionDays are the cohort offsets re-evaluated on every archive run.
var retentionDays = []int{1, 7, 14, 30}

// Archiver computes one day's aggregates from the raw tables and upserts the
// stats rows. Everything is computed in memory before the first write, so an
// aborted run leaves no partial day behind; re-running converges to the same
// rows.
type Archiver struct {
	store    *storage.Store
	counters *DeliveryCounters
	loc      *time.Location
	log      logx.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewArchiver(store *storage.Store, counters *DeliveryCounters, loc *time.Location, log logx.Logger) *Archiver {
	if loc == nil {
		loc = time.UTC
	}
	if counters == nil {
		counters = NewDeliveryCounters()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Archiver{store: store, counters: counters, loc: loc, log: log, now: time.Now}
}

// Archive aggregates the given calendar day. The day window is
// [00:00, 24:00) local, clamped to a snapshot taken at run start so a
// pre-midnight run only sees what exists now and a later re-run of the same
// day converges.
func (a *Archiver) Archive(ctx context.Context, day time.Time) error {
	snapshot := a.now().In(a.loc)
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, a.loc)
	dayEnd := dayStart.Add(24 * time.Hour)
	if snapshot.Before(dayEnd) {
		dayEnd = snapshot
	}
	if dayEnd.Before(dayStart) {
		return fmt.Errorf("archive day %s starts in the future", dayStart.Format(time.DateOnly))
	}

	users, err := a.computeUserStats(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("user stats for %s: %w", dayStart.Format(time.DateOnly), err)
	}
	features, err := a.store.EventTypeCounts(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("feature usage for %s: %w", dayStart.Format(time.DateOnly), err)
	}
	subs, err := a.computeSubscriptionStats(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("subscription stats for %s: %w", dayStart.Format(time.DateOnly), err)
	}
	retention, err := a.computeRetention(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("retention for %s: %w", dayStart.Format(time.DateOnly), err)
	}

	// Counters drain last so a failed computation leaves them untouched.
	sent, failed := a.counters.Drain(dayStart)
	subs.NotificationsSent = sent
	subs.NotificationsDelivered = sent
	subs.NotificationsFailed = failed

	if err := a.persist(ctx, users, features, subs, retention, dayStart); err != nil {
		a.counters.Restore(dayStart, sent, failed)
		return err
	}

	a.log.Info("day archived",
		logx.String("date", dayStart.Format(time.DateOnly)),
		logx.Int("active_users", users.ActiveUsers),
		logx.Int("events", users.TotalMessages),
		logx.Int("notifications_sent", sent))
	return nil
}

func (a *Archiver) computeUserStats(ctx context.Context, start, end time.Time) (storage.DailyUserStats, error) {
	st := storage.DailyUserStats{Date: start}

	var err error
	if st.TotalUsers, err = a.store.CountUsersCreatedBefore(ctx, end); err != nil {
		return st, err
	}
	if st.NewUsers, err = a.store.CountUsersCreatedBetween(ctx, start, end); err != nil {
		return st, err
	}
	if st.ActiveUsers, err = a.store.CountDistinctEventUsers(ctx, start, end, ""); err != nil {
		return st, err
	}
	if st.ReturningUsers, err = a.store.CountReturningUsers(ctx, start, end); err != nil {
		return st, err
	}
	if st.TotalMessages, err = a.store.CountEvents(ctx, start, end, ""); err != nil {
		return st, err
	}
	if st.ActiveUsers > 0 {
		st.AvgMessagesPerUser = float64(st.TotalMessages) / float64(st.ActiveUsers)
	}
	if st.AirChecks, err = a.store.CountEvents(ctx, start, end, EventCheckAir); err != nil {
		return st, err
	}
	if st.UniqueAirCheckers, err = a.store.CountDistinctEventUsers(ctx, start, end, EventCheckAir); err != nil {
		return st, err
	}
	return st, nil
}

func (a *Archiver) computeSubscriptionStats(ctx context.Context, start, end time.Time) (storage.SubscriptionStats, error) {
	st := storage.SubscriptionStats{Date: start}

	var err error
	if st.NewSubscriptions, err = a.store.CountSubscriptionsCreatedBetween(ctx, start, end); err != nil {
		return st, err
	}
	if st.CancelledSubscriptions, err = a.store.CountEvents(ctx, start, end, EventSubscriptionCancelled); err != nil {
		return st, err
	}
	if st.ActiveSubscriptions, err = a.store.CountActiveSubscriptions(ctx); err != nil {
		return st, err
	}
	if st.TotalSubscriptions, err = a.store.CountSubscriptionsCreatedBefore(ctx, end); err != nil {
		return st, err
	}
	if st.ExpiredSubscriptions, err = a.store.CountSubscriptionsExpiredBetween(ctx, start, end); err != nil {
		return st, err
	}
	if st.SubscriptionViews, err = a.store.CountEvents(ctx, start, end, EventSubscriptionPrompt); err != nil {
		return st, err
	}
	if st.SubscriptionConversions, err = a.store.CountEvents(ctx, start, end, EventSubscriptionCreated); err != nil {
		return st, err
	}
	if st.SubscriptionViews > 0 {
		st.ConversionRate = float64(st.SubscriptionConversions) / float64(st.SubscriptionViews)
	}
	return st, nil
}

// computeRetention re-evaluates the cohorts registered 1, 7, 14 and 30 days
// before the archived day: of the users who signed up that day, how many had
// any event inside the archived window.
func (a *Archiver) computeRetention(ctx context.Context, start, end time.Time) ([]storage.UserRetention, error) {
	var out []storage.UserRetention
	for _, n := range retentionDays {
		cohortStart := start.AddDate(0, 0, -n)
		cohortEnd := cohortStart.Add(24 * time.Hour)
		cohort, err := a.store.UserIDsCreatedBetween(ctx, cohortStart, cohortEnd)
		if err != nil {
			return nil, err
		}
		if len(cohort) == 0 {
			continue
		}
		retained, err := a.store.CountRetainedUsers(ctx, cohort, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.UserRetention{
			CohortDate:    cohortStart,
			DayNumber:     n,
			CohortSize:    len(cohort),
			RetainedUsers: retained,
			RetentionRate: float64(retained) / float64(len(cohort)),
		})
	}
	return out, nil
}

func (a *Archiver) persist(ctx context.Context, users storage.DailyUserStats, features []storage.FeatureCount,
	subs storage.SubscriptionStats, retention []storage.UserRetention, day time.Time) error {

	if err := a.store.UpsertDailyUserStats(ctx, users); err != nil {
		return fmt.Errorf("persist user stats: %w", err)
	}
	for _, fc := range features {
		err := a.store.UpsertFeatureUsage(ctx, storage.FeatureUsageStats{
			Date:        day,
			FeatureName: fc.Feature,
			UsageCount:  fc.UsageCount,
			UniqueUsers: fc.UniqueUsers,
		})
		if err != nil {
			return fmt.Errorf("persist feature usage %q: %w", fc.Feature, err)
		}
	}
	if err := a.store.UpsertSubscriptionStats(ctx, subs); err != nil {
		return fmt.Errorf("persist subscription stats: %w", err)
	}
	for _, r := range retention {
		if err := a.store.UpsertUserRetention(ctx, r); err != nil {
			return fmt.Errorf("persist retention day %d: %w", r.DayNumber, err)
		}
	}
	return nil
}
