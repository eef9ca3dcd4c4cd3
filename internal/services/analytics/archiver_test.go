package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"auabot/internal/storage"
	logx "auabot/pkg/logx"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// seedDay loads a deterministic fixture: three users, one subscribed, a mix
// of events inside the archived day and a registration cohort one day back.
func seedDay(t *testing.T, st *storage.Store, day time.Time) {
	t.Helper()
	ctx := context.Background()

	cohortDay := day.AddDate(0, 0, -1)
	users := []storage.User{
		{ID: 1, Username: "aidana", LanguageCode: "ru", IsActive: true, CreatedAt: cohortDay.Add(10 * time.Hour)},
		{ID: 2, Username: "bek", LanguageCode: "kk", IsActive: true, CreatedAt: cohortDay.Add(11 * time.Hour)},
		{ID: 3, Username: "carl", LanguageCode: "en", IsActive: true, CreatedAt: day.Add(9 * time.Hour)},
	}
	for _, u := range users {
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}

	events := []storage.UserEvent{
		{UserID: 1, EventType: EventCheckAir, Timestamp: day.Add(8 * time.Hour)},
		{UserID: 1, EventType: EventCheckAir, Timestamp: day.Add(14 * time.Hour)},
		{UserID: 3, EventType: EventUserRegistered, Timestamp: day.Add(9 * time.Hour)},
		{UserID: 3, EventType: EventSubscriptionPrompt, Timestamp: day.Add(9*time.Hour + time.Minute)},
		{UserID: 3, EventType: EventSubscriptionCreated, Timestamp: day.Add(9*time.Hour + 2*time.Minute)},
		// Previous-day activity makes user 1 a returning user.
		{UserID: 1, EventType: EventCheckAir, Timestamp: cohortDay.Add(12 * time.Hour)},
	}
	for _, e := range events {
		if err := st.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	if _, err := st.CreateSubscription(ctx, storage.Subscription{
		UserID: 3, Latitude: 43.2, Longitude: 76.9, MuteStart: 23, MuteEnd: 7,
		CreatedAt: day.Add(9*time.Hour + 2*time.Minute),
	}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
}

func TestArchiveComputesDayAggregates(t *testing.T) {
	st := openTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedDay(t, st, day)

	arch := NewArchiver(st, nil, time.UTC, logx.Nop())
	arch.now = fixedClock(day.AddDate(0, 0, 2))

	if err := arch.Archive(context.Background(), day); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := st.GetDailyUserStats(context.Background(), day)
	if err != nil {
		t.Fatalf("GetDailyUserStats: %v", err)
	}
	if got.TotalUsers != 3 || got.NewUsers != 1 {
		t.Fatalf("user totals wrong: %+v", got)
	}
	if got.ActiveUsers != 2 || got.ReturningUsers != 1 {
		t.Fatalf("activity wrong: %+v", got)
	}
	if got.AirChecks != 2 || got.UniqueAirCheckers != 1 {
		t.Fatalf("air checks wrong: %+v", got)
	}

	subs, err := st.GetSubscriptionStats(context.Background(), day)
	if err != nil {
		t.Fatalf("GetSubscriptionStats: %v", err)
	}
	if subs.SubscriptionViews != 1 || subs.SubscriptionConversions != 1 || subs.ConversionRate != 1 {
		t.Fatalf("conversion wrong: %+v", subs)
	}
	if subs.NewSubscriptions != 1 || subs.ActiveSubscriptions != 1 {
		t.Fatalf("subscription counts wrong: %+v", subs)
	}

	features, err := st.FeatureUsageFor(context.Background(), day)
	if err != nil {
		t.Fatalf("FeatureUsageFor: %v", err)
	}
	if len(features) != 4 {
		t.Fatalf("expected 4 feature rows, got %d: %+v", len(features), features)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedDay(t, st, day)

	counters := NewDeliveryCounters()
	counters.AddSent(day)
	counters.AddSent(day)
	counters.AddFailed(day)

	arch := NewArchiver(st, counters, time.UTC, logx.Nop())
	arch.now = fixedClock(day.AddDate(0, 0, 2))
	ctx := context.Background()

	if err := arch.Archive(ctx, day); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	first, err := st.GetSubscriptionStats(ctx, day)
	if err != nil {
		t.Fatalf("GetSubscriptionStats: %v", err)
	}
	if first.NotificationsSent != 2 || first.NotificationsFailed != 1 {
		t.Fatalf("counters not flushed: %+v", first)
	}

	// Re-run: same event data, drained counters. Rows must not change.
	if err := arch.Archive(ctx, day); err != nil {
		t.Fatalf("Archive rerun: %v", err)
	}
	second, err := st.GetSubscriptionStats(ctx, day)
	if err != nil {
		t.Fatalf("GetSubscriptionStats rerun: %v", err)
	}
	if second.NotificationsSent != first.NotificationsSent ||
		second.NotificationsFailed != first.NotificationsFailed ||
		second.NewSubscriptions != first.NewSubscriptions {
		t.Fatalf("rerun diverged: first %+v second %+v", first, second)
	}

	u1, _ := st.GetDailyUserStats(ctx, day)
	if err := arch.Archive(ctx, day); err != nil {
		t.Fatalf("Archive third: %v", err)
	}
	u2, _ := st.GetDailyUserStats(ctx, day)
	if u1.TotalUsers != u2.TotalUsers || u1.ActiveUsers != u2.ActiveUsers || u1.TotalMessages != u2.TotalMessages {
		t.Fatalf("user stats diverged: %+v vs %+v", u1, u2)
	}
}

// A fresh archiver instance over the same database, the recovery-tool path,
// must land on the same rows as the resident one.
func TestArchiveRecoveryEquivalence(t *testing.T) {
	st := openTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedDay(t, st, day)
	ctx := context.Background()
	snapshot := day.AddDate(0, 0, 5)

	resident := NewArchiver(st, nil, time.UTC, logx.Nop())
	resident.now = fixedClock(snapshot)
	if err := resident.Archive(ctx, day); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	want, _ := st.GetDailyUserStats(ctx, day)

	recovery := NewArchiver(st, nil, time.UTC, logx.Nop())
	recovery.now = fixedClock(snapshot.AddDate(0, 0, 3))
	if err := recovery.Archive(ctx, day); err != nil {
		t.Fatalf("recovery Archive: %v", err)
	}
	got, _ := st.GetDailyUserStats(ctx, day)

	if got.TotalUsers != want.TotalUsers || got.ActiveUsers != want.ActiveUsers ||
		got.AirChecks != want.AirChecks || got.ReturningUsers != want.ReturningUsers {
		t.Fatalf("recovery diverged: %+v vs %+v", got, want)
	}
}

func TestArchiveRetention(t *testing.T) {
	st := openTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedDay(t, st, day)

	arch := NewArchiver(st, nil, time.UTC, logx.Nop())
	arch.now = fixedClock(day.AddDate(0, 0, 2))
	ctx := context.Background()

	if err := arch.Archive(ctx, day); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	cohort := day.AddDate(0, 0, -1)
	rows, err := st.RetentionForCohort(ctx, cohort)
	if err != nil {
		t.Fatalf("RetentionForCohort: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 retention row, got %d", len(rows))
	}
	r := rows[0]
	if r.DayNumber != 1 || r.CohortSize != 2 || r.RetainedUsers != 1 {
		t.Fatalf("retention wrong: %+v", r)
	}
	if r.RetainedUsers > r.CohortSize {
		t.Fatalf("retained exceeds cohort: %+v", r)
	}
	if r.RetentionRate != 0.5 {
		t.Fatalf("rate wrong: %v", r.RetentionRate)
	}
}

func TestArchiveRejectsFutureDay(t *testing.T) {
	st := openTestStore(t)
	arch := NewArchiver(st, nil, time.UTC, logx.Nop())
	arch.now = fixedClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	if err := arch.Archive(context.Background(), time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Fatalf("expected error for future day")
	}
}

func TestArchiveClampsWindowToSnapshot(t *testing.T) {
	st := openTestStore(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, storage.User{ID: 1, LanguageCode: "ru", IsActive: true, CreatedAt: day}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	for _, ts := range []time.Time{day.Add(10 * time.Hour), day.Add(23 * time.Hour)} {
		if err := st.AppendEvent(ctx, storage.UserEvent{UserID: 1, EventType: EventCheckAir, Timestamp: ts}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	// Mid-day snapshot only sees the morning event.
	arch := NewArchiver(st, nil, time.UTC, logx.Nop())
	arch.now = fixedClock(day.Add(12 * time.Hour))
	if err := arch.Archive(ctx, day); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	got, _ := st.GetDailyUserStats(ctx, day)
	if got.AirChecks != 1 {
		t.Fatalf("expected clamped window with 1 air check, got %d", got.AirChecks)
	}

	// The pre-midnight style rerun picks up the evening event.
	arch.now = fixedClock(day.Add(24*time.Hour + time.Hour))
	if err := arch.Archive(ctx, day); err != nil {
		t.Fatalf("Archive rerun: %v", err)
	}
	got, _ = st.GetDailyUserStats(ctx, day)
	if got.AirChecks != 2 {
		t.Fatalf("expected full window with 2 air checks, got %d", got.AirChecks)
	}
}
