// Package dispatch runs the notification engine: on every tick it walks the
// active subscriptions, decides per the threshold policy, delivers through
// the transport, and monitors live safety-net sessions.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auabot/internal/airquality"
	"auabot/internal/services/analytics"
	"auabot/internal/services/subs"
	"auabot/internal/storage"
	"auabot/internal/transport"
	logx "auabot/pkg/logx"
)

type Config struct {
	// Cooldown suppresses repeat notifications per subscription.
	Cooldown time.Duration
	// SafetyNetDuration is the lifetime of an auto-started session.
	SafetyNetDuration time.Duration
	// Location is the zone quiet hours are evaluated in.
	Location *time.Location
}

type Service struct {
	store    *storage.Store
	dir      airquality.Directory
	tr       transport.Transport
	recorder *analytics.Recorder
	counters *analytics.DeliveryCounters
	log      logx.Logger

	cooldown    time.Duration
	sessionLife time.Duration
	loc         *time.Location

	mu     sync.Mutex
	policy ThresholdPolicy

	trigger chan struct{}
	now     func() time.Time
}

func New(store *storage.Store, dir airquality.Directory, tr transport.Transport,
	recorder *analytics.Recorder, counters *analytics.DeliveryCounters,
	policy ThresholdPolicy, cfg Config, log logx.Logger) *Service {

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 4 * time.Hour
	}
	if cfg.SafetyNetDuration <= 0 {
		cfg.SafetyNetDuration = 4 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if counters == nil {
		counters = analytics.NewDeliveryCounters()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:       store,
		dir:         dir,
		tr:          tr,
		recorder:    recorder,
		counters:    counters,
		log:         log,
		cooldown:    cfg.Cooldown,
		sessionLife: cfg.SafetyNetDuration,
		loc:         cfg.Location,
		policy:      policy,
		trigger:     make(chan struct{}, 1),
		now:         time.Now,
	}
}

// SetPolicy swaps the threshold policy. Config reload calls this; the next
// tick decides with the new cut points.
func (s *Service) SetPolicy(p ThresholdPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *Service) currentPolicy() ThresholdPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Trigger requests a tick. Non-blocking; a pending trigger coalesces.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run ticks on every trigger and on a fallback interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
		case <-ticker.C:
		}
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("dispatch tick failed", logx.Err(err))
		}
	}
}

// Tick runs one full dispatch cycle: the subscription pass, then the
// safety-net session pass. Per-subscription failures are logged and counted,
// never abort the cycle; only listing failures do.
func (s *Service) Tick(ctx context.Context) error {
	now := s.now().In(s.loc)

	active, err := s.store.ActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range active {
		s.dispatchOne(ctx, sub, now)
	}

	sessions, err := s.store.ActiveSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, sess := range sessions {
		s.watchSession(ctx, sess, now)
	}
	return nil
}

func (s *Service) dispatchOne(ctx context.Context, sub storage.Subscription, now time.Time) {
	log := s.log.With(logx.Int64("subscription_id", sub.ID), logx.Int64("user_id", sub.UserID))

	if subs.IsExpired(sub, now) {
		s.expire(ctx, sub, log)
		return
	}

	reading, ok, err := s.dir.NearestReading(ctx, sub.Latitude, sub.Longitude)
	if err != nil {
		log.Warn("nearest reading failed", logx.Err(err))
		return
	}
	if !ok {
		log.Debug("no station covers subscription")
		return
	}
	cur := reading.AQI

	// Muted and cooled-down subscriptions still track the level, otherwise
	// the clean-air edge would fire hours late, right after unmute.
	notify := subs.Eligible(sub, now) &&
		(sub.LastNotifiedAt == nil || now.Sub(*sub.LastNotifiedAt) >= s.cooldown) &&
		s.currentPolicy().ShouldNotifyClean(sub.LastAQI, cur)

	if !notify {
		if err := s.store.UpdateSubscriptionReading(ctx, sub.ID, cur, nil); err != nil {
			log.Warn("reading update failed", logx.Err(err))
		}
		return
	}

	if err := s.tr.Send(ctx, sub.UserID, transport.Message{Text: cleanAirMessage(reading.Name, cur)}); err != nil {
		log.Warn("notification delivery failed", logx.Err(err))
		s.counters.AddFailed(now)
		s.recorder.Record(ctx, sub.UserID, analytics.EventNotificationFailed, map[string]any{
			"subscription_id": sub.ID, "aqi": cur,
		})
		// The edge is consumed either way; a retry storm helps nobody.
		if err := s.store.UpdateSubscriptionReading(ctx, sub.ID, cur, nil); err != nil {
			log.Warn("reading update failed", logx.Err(err))
		}
		return
	}

	s.counters.AddSent(now)
	s.recorder.Record(ctx, sub.UserID, analytics.EventNotificationSent, map[string]any{
		"subscription_id": sub.ID, "aqi": cur,
	})
	if err := s.store.UpdateSubscriptionReading(ctx, sub.ID, cur, &now); err != nil {
		log.Warn("reading update failed", logx.Err(err))
	}
	log.Info("clean air notification sent", logx.Int("aqi", cur))

	if sub.AutoSafetyNet {
		_, err := s.store.StartSession(ctx, storage.SafetyNetSession{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			StartAQI:       cur,
			SessionExpiry:  now.Add(s.sessionLife),
		})
		if err != nil {
			log.Warn("safety net session start failed", logx.Err(err))
			return
		}
		log.Info("safety net session started", logx.Int("start_aqi", cur))
	}
}

// expire deactivates a lapsed subscription and tells the user once. The
// notice is best effort; the deactivation is what matters.
func (s *Service) expire(ctx context.Context, sub storage.Subscription, log logx.Logger) {
	if err := s.store.DeactivateSubscription(ctx, sub.ID); err != nil {
		log.Warn("expiry deactivation failed", logx.Err(err))
		return
	}
	s.recorder.Record(ctx, sub.UserID, analytics.EventSubscriptionExpired, map[string]any{
		"subscription_id": sub.ID,
	})
	if err := s.tr.Send(ctx, sub.UserID, transport.Message{Text: expiryMessage(), Silent: true}); err != nil {
		log.Debug("expiry notice delivery failed", logx.Err(err))
	}
	log.Info("subscription expired")
}

// watchSession checks one live safety-net session. Sessions deliberately
// ignore quiet hours and cooldown: the user just aired the room, a relapse
// is exactly what they asked to hear about. One alert per session.
func (s *Service) watchSession(ctx context.Context, sess storage.SafetyNetSession, now time.Time) {
	log := s.log.With(logx.Int64("session_id", sess.ID), logx.Int64("user_id", sess.UserID))

	sub, err := s.store.GetSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		log.Warn("session subscription lookup failed", logx.Err(err))
		return
	}
	reading, ok, err := s.dir.NearestReading(ctx, sub.Latitude, sub.Longitude)
	if err != nil || !ok {
		if err != nil {
			log.Warn("nearest reading failed", logx.Err(err))
		}
		return
	}
	cur := reading.AQI
	if !s.currentPolicy().SafetyNetTriggered(sess.StartAQI, cur) {
		return
	}

	if err := s.tr.Send(ctx, sess.UserID, transport.Message{Text: safetyNetMessage(reading.Name, cur)}); err != nil {
		log.Warn("safety net alert delivery failed", logx.Err(err))
		s.counters.AddFailed(now)
		return
	}
	s.counters.AddSent(now)
	s.recorder.Record(ctx, sess.UserID, analytics.EventSafetyNetAlert, map[string]any{
		"subscription_id": sess.SubscriptionID, "start_aqi": sess.StartAQI, "aqi": cur,
	})
	if err := s.store.InvalidateSession(ctx, sess.ID); err != nil {
		log.Warn("session invalidation failed", logx.Err(err))
		return
	}
	log.Info("safety net alert sent", logx.Int("start_aqi", sess.StartAQI), logx.Int("aqi", cur))
}
