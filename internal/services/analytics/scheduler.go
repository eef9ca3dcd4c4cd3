package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "auabot/pkg/logx"
)

// SchedulerConfig sets the two daily wake points in the archiving timezone.
type SchedulerConfig struct {
	// Timezone is an IANA zone name; empty means UTC.
	Timezone string
	// PreMidnight ("HH:MM") archives the current day just before it ends.
	PreMidnight string
	// PostMidnight ("HH:MM") re-archives yesterday shortly after the
	// boundary, catching events logged in the final seconds.
	PostMidnight string
}

// Scheduler drives the archiver twice a day and once at startup. A single
// instance runs per process; the upserts keep concurrent manual runs
// harmless anyway.
type Scheduler struct {
	arch *Archiver
	loc  *time.Location
	pre  cron.Schedule
	post cron.Schedule
	log  logx.Logger

	now func() time.Time
}

func NewScheduler(arch *Archiver, cfg SchedulerConfig, log logx.Logger) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	if cfg.PreMidnight == "" {
		cfg.PreMidnight = "23:55"
	}
	if cfg.PostMidnight == "" {
		cfg.PostMidnight = "00:05"
	}
	pre, err := parseWake(tz, cfg.PreMidnight)
	if err != nil {
		return nil, fmt.Errorf("pre_midnight: %w", err)
	}
	post, err := parseWake(tz, cfg.PostMidnight)
	if err != nil {
		return nil, fmt.Errorf("post_midnight: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{arch: arch, loc: loc, pre: pre, post: post, log: log, now: time.Now}, nil
}

// parseWake turns "HH:MM" into a daily cron schedule pinned to the zone.
func parseWake(tz, hhmm string) (cron.Schedule, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hh, &mm); err != nil {
		return nil, fmt.Errorf("wake time %q: want HH:MM", hhmm)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return nil, fmt.Errorf("wake time %q out of range", hhmm)
	}
	return cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, mm, hh))
}

// nextWake returns the earliest upcoming wake point and whether that wake
// archives yesterday (the post-midnight one) instead of the wake's own day.
func (s *Scheduler) nextWake(now time.Time) (time.Time, bool) {
	p := s.pre.Next(now)
	q := s.post.Next(now)
	if q.Before(p) {
		return q, true
	}
	return p, false
}

// Run blocks until ctx is done. Archive errors are logged and the loop keeps
// going; the next wake or the startup run of the following restart will
// converge the missed day.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startupRun(ctx)

	for {
		wake, yesterday := s.nextWake(s.now())
		timer := time.NewTimer(time.Until(wake))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		day := wake.In(s.loc)
		if yesterday {
			day = day.AddDate(0, 0, -1)
		}
		if err := s.arch.Archive(ctx, day); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("scheduled archive failed",
				logx.String("date", day.Format(time.DateOnly)), logx.Err(err))
		}
	}
}

// startupRun reconciles after downtime: yesterday first (it may have been
// missed entirely), then today so the partial day is queryable immediately.
func (s *Scheduler) startupRun(ctx context.Context) {
	now := s.now().In(s.loc)
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		if ctx.Err() != nil {
			return
		}
		if err := s.arch.Archive(ctx, day); err != nil {
			s.log.Error("startup archive failed",
				logx.String("date", day.Format(time.DateOnly)), logx.Err(err))
		}
	}
}
