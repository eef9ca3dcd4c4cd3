// Package subs owns the subscription lifecycle and the eligibility rules the
// dispatcher consults. MUTED and EXPIRED are derived states: nothing ever
// persists them, they fall out of the stored quiet hours and expiry date at
// read time.
package subs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auabot/internal/services/analytics"
	"auabot/internal/storage"
	logx "auabot/pkg/logx"
)

var ErrInvalidQuietHours = errors.New("quiet hours must be within 0-23")

type State int

const (
	StateActive State = iota
	StateMuted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateMuted:
		return "muted"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// InQuietHours reports whether the hour falls inside [start, end), with
// wraparound when the window crosses midnight (start > end).
func InQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// IsExpired is lazy: an ACTIVE row whose expiry has passed reads as expired.
func IsExpired(sub storage.Subscription, now time.Time) bool {
	return sub.ExpiryDate != nil && !now.Before(*sub.ExpiryDate)
}

// StateAt derives the state at a moment. now must already be in the zone the
// quiet hours were written for.
func StateAt(sub storage.Subscription, now time.Time) State {
	if IsExpired(sub, now) {
		return StateExpired
	}
	if InQuietHours(now.Hour(), sub.MuteStart, sub.MuteEnd) {
		return StateMuted
	}
	return StateActive
}

// Eligible reports whether the subscription may receive a notification now.
func Eligible(sub storage.Subscription, now time.Time) bool {
	return StateAt(sub, now) == StateActive
}

type store interface {
	CreateSubscription(ctx context.Context, sub storage.Subscription) (storage.Subscription, error)
	DeactivateSubscription(ctx context.Context, id int64) error
	UpdateQuietHours(ctx context.Context, id int64, muteStart, muteEnd int) error
	GetSubscription(ctx context.Context, id int64) (storage.Subscription, error)
}

// Defaults apply to subscriptions created without explicit quiet hours.
type Defaults struct {
	MuteStart int
	MuteEnd   int
}

type Service struct {
	store    store
	recorder *analytics.Recorder
	defaults Defaults
	log      logx.Logger
}

func NewService(st store, recorder *analytics.Recorder, defaults Defaults, log logx.Logger) (*Service, error) {
	if err := validateHours(defaults.MuteStart, defaults.MuteEnd); err != nil {
		return nil, fmt.Errorf("default quiet hours: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: st, recorder: recorder, defaults: defaults, log: log}, nil
}

// CreateParams describes a new subscription. Zero QuietHours means defaults.
type CreateParams struct {
	UserID     int64
	Latitude   float64
	Longitude  float64
	ExpiryDate *time.Time

	QuietHours    *QuietHours
	AutoSafetyNet bool
}

type QuietHours struct {
	Start int
	End   int
}

func (s *Service) Create(ctx context.Context, p CreateParams) (storage.Subscription, error) {
	muteStart, muteEnd := s.defaults.MuteStart, s.defaults.MuteEnd
	if p.QuietHours != nil {
		if err := validateHours(p.QuietHours.Start, p.QuietHours.End); err != nil {
			return storage.Subscription{}, err
		}
		muteStart, muteEnd = p.QuietHours.Start, p.QuietHours.End
	}

	sub, err := s.store.CreateSubscription(ctx, storage.Subscription{
		UserID:        p.UserID,
		Latitude:      p.Latitude,
		Longitude:     p.Longitude,
		ExpiryDate:    p.ExpiryDate,
		MuteStart:     muteStart,
		MuteEnd:       muteEnd,
		AutoSafetyNet: p.AutoSafetyNet,
	})
	if err != nil {
		return storage.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	s.recorder.Record(ctx, p.UserID, analytics.EventSubscriptionCreated, map[string]any{
		"subscription_id": sub.ID,
	})
	s.log.Info("subscription created",
		logx.Int64("subscription_id", sub.ID),
		logx.Int64("user_id", p.UserID))
	return sub, nil
}

func (s *Service) Cancel(ctx context.Context, id int64) error {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateSubscription(ctx, id); err != nil {
		return fmt.Errorf("cancel subscription %d: %w", id, err)
	}
	s.recorder.Record(ctx, sub.UserID, analytics.EventSubscriptionCancelled, map[string]any{
		"subscription_id": id,
	})
	s.log.Info("subscription cancelled", logx.Int64("subscription_id", id))
	return nil
}

// UpdateQuietHours rejects out-of-range hours synchronously; it never clamps.
func (s *Service) UpdateQuietHours(ctx context.Context, id int64, start, end int) error {
	if err := validateHours(start, end); err != nil {
		return err
	}
	if err := s.store.UpdateQuietHours(ctx, id, start, end); err != nil {
		return fmt.Errorf("update quiet hours for %d: %w", id, err)
	}
	return nil
}

func validateHours(start, end int) error {
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return ErrInvalidQuietHours
	}
	return nil
}
