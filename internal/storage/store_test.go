package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "auabot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertUserPreservesCreatedAtAndOnboarding(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	if err := st.UpsertUser(ctx, User{ID: 42, Username: "ayan", LanguageCode: "ru", IsActive: true, CreatedAt: created}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := st.SetOnboardingSeen(ctx, 42, true, false); err != nil {
		t.Fatalf("SetOnboardingSeen: %v", err)
	}

	// Second contact updates profile fields only.
	if err := st.UpsertUser(ctx, User{ID: 42, Username: "ayan_b", LanguageCode: "kk", IsActive: true}); err != nil {
		t.Fatalf("UpsertUser second: %v", err)
	}

	u, err := st.GetUser(ctx, 42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Username != "ayan_b" || u.LanguageCode != "kk" {
		t.Fatalf("profile not refreshed: %+v", u)
	}
	if !u.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed on upsert: %v", u.CreatedAt)
	}
	if !u.SeenCheckOnboarding || u.SeenSubscribeOnboarding {
		t.Fatalf("onboarding flags wrong: %+v", u)
	}

	// Flags never flip back.
	if err := st.SetOnboardingSeen(ctx, 42, false, true); err != nil {
		t.Fatalf("SetOnboardingSeen: %v", err)
	}
	u, _ = st.GetUser(ctx, 42)
	if !u.SeenCheckOnboarding || !u.SeenSubscribeOnboarding {
		t.Fatalf("onboarding flags regressed: %+v", u)
	}
}

func TestGetUserNotFound(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetUser(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSubscriptionDeactivatesSameLocation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.CreateSubscription(ctx, Subscription{UserID: 1, Latitude: 43.238949, Longitude: 76.889709, MuteStart: 23, MuteEnd: 7})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	// Same point within rounding tolerance replaces the first.
	second, err := st.CreateSubscription(ctx, Subscription{UserID: 1, Latitude: 43.23895, Longitude: 76.88971, MuteStart: 22, MuteEnd: 8})
	if err != nil {
		t.Fatalf("CreateSubscription second: %v", err)
	}

	// Different location for the same user stays independent.
	if _, err := st.CreateSubscription(ctx, Subscription{UserID: 1, Latitude: 43.30, Longitude: 76.95, MuteStart: 23, MuteEnd: 7}); err != nil {
		t.Fatalf("CreateSubscription third: %v", err)
	}

	active, err := st.ActiveSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ActiveSubscriptions: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active subscriptions, got %d", len(active))
	}
	for _, sub := range active {
		if sub.ID == first.ID {
			t.Fatalf("superseded subscription still active: %+v", sub)
		}
	}

	got, err := st.GetSubscription(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.MuteStart != 22 || got.MuteEnd != 8 || !got.IsActive {
		t.Fatalf("unexpected replacement subscription: %+v", got)
	}
}

func TestUpdateSubscriptionReading(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sub, err := st.CreateSubscription(ctx, Subscription{UserID: 5, Latitude: 43.2, Longitude: 76.9})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	if err := st.UpdateSubscriptionReading(ctx, sub.ID, 120, nil); err != nil {
		t.Fatalf("UpdateSubscriptionReading: %v", err)
	}
	got, _ := st.GetSubscription(ctx, sub.ID)
	if got.LastAQI == nil || *got.LastAQI != 120 {
		t.Fatalf("last AQI not stored: %+v", got)
	}
	if got.LastNotifiedAt != nil {
		t.Fatalf("notified_at set without a notification")
	}

	at := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	if err := st.UpdateSubscriptionReading(ctx, sub.ID, 45, &at); err != nil {
		t.Fatalf("UpdateSubscriptionReading with notify: %v", err)
	}
	got, _ = st.GetSubscription(ctx, sub.ID)
	if got.LastNotifiedAt == nil || !got.LastNotifiedAt.Equal(at) {
		t.Fatalf("notified_at not stored: %+v", got.LastNotifiedAt)
	}
}

func TestStartSessionSupersedes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sub, err := st.CreateSubscription(ctx, Subscription{UserID: 7, Latitude: 43.2, Longitude: 76.9})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	first, err := st.StartSession(ctx, SafetyNetSession{
		UserID: 7, SubscriptionID: sub.ID, StartAQI: 60, SessionExpiry: now.Add(4 * time.Hour),
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	second, err := st.StartSession(ctx, SafetyNetSession{
		UserID: 7, SubscriptionID: sub.ID, StartAQI: 80, SessionExpiry: now.Add(4 * time.Hour),
	})
	if err != nil {
		t.Fatalf("StartSession second: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a new session row")
	}

	active, err := st.ActiveSessionFor(ctx, sub.ID, now)
	if err != nil {
		t.Fatalf("ActiveSessionFor: %v", err)
	}
	if active.ID != second.ID || active.StartAQI != 80 {
		t.Fatalf("wrong active session: %+v", active)
	}

	all, err := st.ActiveSessions(ctx, now)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one running session, got %d", len(all))
	}

	if err := st.InvalidateSession(ctx, second.ID); err != nil {
		t.Fatalf("InvalidateSession: %v", err)
	}
	if _, err := st.ActiveSessionFor(ctx, sub.ID, now.Add(time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active session after invalidate, got %v", err)
	}
}

func TestEventsInRangeOrderAndFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	events := []UserEvent{
		{UserID: 1, EventType: "check_air", Timestamp: base.Add(2 * time.Hour)},
		{UserID: 2, EventType: "subscription_created", Timestamp: base.Add(1 * time.Hour)},
		{UserID: 1, EventType: "check_air", Timestamp: base.Add(3 * time.Hour)},
		{UserID: 3, EventType: "check_air", Timestamp: base.Add(26 * time.Hour)}, // outside
	}
	for _, e := range events {
		if err := st.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	var got []UserEvent
	err := st.EventsInRange(ctx, base, base.Add(24*time.Hour), "", func(e UserEvent) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("EventsInRange: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events in window, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("events out of order at %d", i)
		}
	}

	n, err := st.CountEvents(ctx, base, base.Add(24*time.Hour), "check_air")
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 check_air events, got %d", n)
	}
	distinct, err := st.CountDistinctEventUsers(ctx, base, base.Add(24*time.Hour), "")
	if err != nil {
		t.Fatalf("CountDistinctEventUsers: %v", err)
	}
	if distinct != 2 {
		t.Fatalf("expected 2 distinct users, got %d", distinct)
	}
}

func TestEventsInRangeStopsOnCallbackError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := st.AppendEvent(ctx, UserEvent{UserID: int64(i), EventType: "check_air", Timestamp: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	sentinel := errors.New("stop")
	seen := 0
	err := st.EventsInRange(ctx, base, base.Add(time.Hour), "", func(UserEvent) error {
		seen++
		if seen == 2 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if seen != 2 {
		t.Fatalf("callback ran %d times", seen)
	}
}

func TestCountRetainedUsers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for _, id := range []int64{1, 2} {
		if err := st.AppendEvent(ctx, UserEvent{UserID: id, EventType: "check_air", Timestamp: base.Add(time.Hour)}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	n, err := st.CountRetainedUsers(ctx, []int64{1, 2, 3}, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("CountRetainedUsers: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 retained users, got %d", n)
	}
	if n, err = st.CountRetainedUsers(ctx, nil, base, base.Add(24*time.Hour)); err != nil || n != 0 {
		t.Fatalf("empty cohort should count zero, got %d err %v", n, err)
	}
}

func TestSubscriptionStatsNotificationsAccumulate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	base := SubscriptionStats{
		Date:                day,
		NewSubscriptions:    3,
		ActiveSubscriptions: 10,
		NotificationsSent:   5,
		NotificationsFailed: 1,
	}
	if err := st.UpsertSubscriptionStats(ctx, base); err != nil {
		t.Fatalf("UpsertSubscriptionStats: %v", err)
	}

	// Re-run with a drained accumulator: aggregates replace, counters add zero.
	rerun := base
	rerun.NotificationsSent = 0
	rerun.NotificationsFailed = 0
	if err := st.UpsertSubscriptionStats(ctx, rerun); err != nil {
		t.Fatalf("UpsertSubscriptionStats rerun: %v", err)
	}

	got, err := st.GetSubscriptionStats(ctx, day)
	if err != nil {
		t.Fatalf("GetSubscriptionStats: %v", err)
	}
	if got.NotificationsSent != 5 || got.NotificationsFailed != 1 {
		t.Fatalf("rerun changed notification counters: %+v", got)
	}
	if got.NewSubscriptions != 3 || got.ActiveSubscriptions != 10 {
		t.Fatalf("aggregates not replaced: %+v", got)
	}

	// A later flush with fresh deliveries adds on top.
	later := rerun
	later.NotificationsSent = 2
	if err := st.UpsertSubscriptionStats(ctx, later); err != nil {
		t.Fatalf("UpsertSubscriptionStats later: %v", err)
	}
	got, _ = st.GetSubscriptionStats(ctx, day)
	if got.NotificationsSent != 7 {
		t.Fatalf("expected 7 notifications sent, got %d", got.NotificationsSent)
	}
}

func TestUpsertDailyUserStatsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	stats := DailyUserStats{Date: day, TotalUsers: 100, NewUsers: 4, ActiveUsers: 30, AirChecks: 55, UniqueAirCheckers: 20}
	for i := 0; i < 2; i++ {
		if err := st.UpsertDailyUserStats(ctx, stats); err != nil {
			t.Fatalf("UpsertDailyUserStats: %v", err)
		}
	}
	got, err := st.GetDailyUserStats(ctx, day)
	if err != nil {
		t.Fatalf("GetDailyUserStats: %v", err)
	}
	if got.TotalUsers != 100 || got.AirChecks != 55 {
		t.Fatalf("unexpected stats after double upsert: %+v", got)
	}
}

func TestUserRetentionUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	cohort := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for _, day := range []int{1, 7} {
		r := UserRetention{CohortDate: cohort, DayNumber: day, CohortSize: 10, RetainedUsers: day, RetentionRate: float64(day) / 10}
		if err := st.UpsertUserRetention(ctx, r); err != nil {
			t.Fatalf("UpsertUserRetention: %v", err)
		}
		// Second write with the same key updates in place.
		if err := st.UpsertUserRetention(ctx, r); err != nil {
			t.Fatalf("UpsertUserRetention rerun: %v", err)
		}
	}

	rows, err := st.RetentionForCohort(ctx, cohort)
	if err != nil {
		t.Fatalf("RetentionForCohort: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 retention rows, got %d", len(rows))
	}
	if rows[0].DayNumber != 1 || rows[1].DayNumber != 7 {
		t.Fatalf("rows out of order: %+v", rows)
	}
}
