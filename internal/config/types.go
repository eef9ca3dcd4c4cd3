package config

import (
	"fmt"
	"time"
)

type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Notifications NotificationsConfig `json:"notifications"`
	Analytics     AnalyticsConfig     `json:"analytics"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendTimeout bounds a single notification delivery attempt.
	SendTimeout string `json:"send_timeout,omitempty"`
	// RatePerSec caps outgoing sends (Telegram-wide broadcast limit is ~30/s).
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// NotificationsConfig parameterizes the dispatcher and the threshold policy.
//
// The AQI cut points are deliberately configuration, not constants: which
// bands count as "clean" vs "unhealthy" differs per deployment.
type NotificationsConfig struct {
	// CheckInterval is the fallback dispatch cadence when no external sync
	// trigger is wired. Go duration string.
	CheckInterval string `json:"check_interval,omitempty"`
	// Cooldown suppresses repeat notifications per subscription.
	Cooldown string `json:"cooldown,omitempty"`

	// CleanThreshold: notify when AQI drops from above to at-or-below it.
	CleanThreshold int `json:"clean_threshold,omitempty"`
	// UnhealthyThreshold: a live safety-net session alerts above it.
	UnhealthyThreshold int `json:"unhealthy_threshold,omitempty"`
	// SpikeDelta: a safety-net session also alerts when AQI exceeds
	// start_aqi + spike_delta.
	SpikeDelta int `json:"spike_delta,omitempty"`

	// SafetyNetDuration is the lifetime of an auto-created session.
	SafetyNetDuration string `json:"safety_net_duration,omitempty"`

	// DefaultMuteStart/DefaultMuteEnd are the quiet hours applied to new
	// subscriptions that don't set their own (hours 0-23, half-open,
	// may wrap past midnight).
	DefaultMuteStart int `json:"default_mute_start,omitempty"`
	DefaultMuteEnd   int `json:"default_mute_end,omitempty"`
}

// AnalyticsConfig controls the daily archiving schedule.
type AnalyticsConfig struct {
	// Timezone is the IANA zone defining the archiving day boundary
	// (e.g. "Asia/Almaty"). Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
	// PreMidnight / PostMidnight are "HH:MM" local wake times. The
	// pre-midnight run archives today; the post-midnight run re-archives
	// yesterday to catch last-second events.
	PreMidnight  string `json:"pre_midnight,omitempty"`
	PostMidnight string `json:"post_midnight,omitempty"`
}

// Validate rejects configurations that must fail synchronously rather than
// degrade at runtime. Quiet-hour bounds outside 0-23 are an error, never
// silently clamped.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validateHour("notifications.default_mute_start", c.Notifications.DefaultMuteStart); err != nil {
		return err
	}
	if err := validateHour("notifications.default_mute_end", c.Notifications.DefaultMuteEnd); err != nil {
		return err
	}
	if c.Notifications.CleanThreshold < 0 {
		return fmt.Errorf("notifications.clean_threshold must be >= 0")
	}
	if c.Notifications.UnhealthyThreshold < 0 {
		return fmt.Errorf("notifications.unhealthy_threshold must be >= 0")
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":             c.Telegram.PollTimeout,
		"telegram.send_timeout":             c.Telegram.SendTimeout,
		"storage.busy_timeout":              c.Storage.BusyTimeout,
		"notifications.check_interval":      c.Notifications.CheckInterval,
		"notifications.cooldown":            c.Notifications.Cooldown,
		"notifications.safety_net_duration": c.Notifications.SafetyNetDuration,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if c.Analytics.Timezone != "" {
		if _, err := time.LoadLocation(c.Analytics.Timezone); err != nil {
			return fmt.Errorf("analytics.timezone: %w", err)
		}
	}
	return nil
}

func validateHour(path string, h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("%s: hour %d out of range 0-23", path, h)
	}
	return nil
}
