// Package app wires the process together: config, logging, storage,
// transport, the dispatcher and the archiving scheduler, under one
// supervisor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"auabot/internal/airquality"
	"auabot/internal/config"
	"auabot/internal/runtime/supervisor"
	"auabot/internal/services/analytics"
	"auabot/internal/services/dispatch"
	"auabot/internal/services/subs"
	"auabot/internal/storage"
	"auabot/internal/transport/telegram"
	logx "auabot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    *storage.Store
	tg       *telegram.Adapter
	recorder *analytics.Recorder
	counters *analytics.DeliveryCounters

	Subs      *subs.Service
	Dispatch  *dispatch.Service
	Archiver  *analytics.Archiver
	Scheduler *analytics.Scheduler

	checkInterval time.Duration
}

// New builds the full service graph from the config file. dir supplies air
// quality readings; the station sync process registers the real one, tools
// that never dispatch (the archive command) pass nil.
func New(cfgPath string, dir airquality.Directory) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}
	if err := a.build(cfg, dir); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewArchiveOnly builds just the storage and archiver graph. The recovery
// command uses it: no Telegram handshake, no dispatcher.
func NewArchiveOnly(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: true})
	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("svc", "storage")))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	loc := time.UTC
	if cfg.Analytics.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Analytics.Timezone); err != nil {
			a.Close()
			return nil, fmt.Errorf("analytics.timezone: %w", err)
		}
	}
	a.Archiver = analytics.NewArchiver(a.store, nil, loc, log.With(logx.String("svc", "archiver")))
	return a, nil
}

// Location returns the archiving timezone from the loaded config.
func (a *App) Location() *time.Location {
	cfg := a.cfgMgr.Get()
	if cfg == nil || cfg.Analytics.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cfg.Analytics.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a *App) build(cfg *config.Config, dir airquality.Directory) error {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		a.log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	sendTimeout, _ := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 8*time.Second)
	a.tg, err = telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SendTimeout: sendTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, a.log.With(logx.String("svc", "telegram")))
	if err != nil {
		return err
	}

	a.recorder = analytics.NewRecorder(a.store, a.log.With(logx.String("svc", "analytics")))
	a.counters = analytics.NewDeliveryCounters()

	a.Subs, err = subs.NewService(a.store, a.recorder, subs.Defaults{
		MuteStart: cfg.Notifications.DefaultMuteStart,
		MuteEnd:   cfg.Notifications.DefaultMuteEnd,
	}, a.log.With(logx.String("svc", "subs")))
	if err != nil {
		return err
	}

	loc := time.UTC
	if cfg.Analytics.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Analytics.Timezone)
		if err != nil {
			return fmt.Errorf("analytics.timezone: %w", err)
		}
	}

	if dir == nil {
		dir = airquality.DirectoryFunc(func(context.Context, float64, float64) (airquality.Reading, bool, error) {
			return airquality.Reading{}, false, nil
		})
	}
	cooldown, _ := config.ParseDurationOrDefault("notifications.cooldown", cfg.Notifications.Cooldown, 4*time.Hour)
	sessionLife, _ := config.ParseDurationOrDefault("notifications.safety_net_duration", cfg.Notifications.SafetyNetDuration, 4*time.Hour)
	a.checkInterval, _ = config.ParseDurationOrDefault("notifications.check_interval", cfg.Notifications.CheckInterval, 10*time.Minute)

	a.Dispatch = dispatch.New(a.store, dir, a.tg, a.recorder, a.counters,
		policyFrom(cfg), dispatch.Config{
			Cooldown:          cooldown,
			SafetyNetDuration: sessionLife,
			Location:          loc,
		}, a.log.With(logx.String("svc", "dispatch")))

	a.Archiver = analytics.NewArchiver(a.store, a.counters, loc, a.log.With(logx.String("svc", "archiver")))
	a.Scheduler, err = analytics.NewScheduler(a.Archiver, analytics.SchedulerConfig{
		Timezone:     cfg.Analytics.Timezone,
		PreMidnight:  cfg.Analytics.PreMidnight,
		PostMidnight: cfg.Analytics.PostMidnight,
	}, a.log.With(logx.String("svc", "archiver")))
	if err != nil {
		return err
	}
	return nil
}

func policyFrom(cfg *config.Config) dispatch.ThresholdPolicy {
	p := dispatch.DefaultPolicy()
	if cfg.Notifications.CleanThreshold > 0 {
		p.CleanThreshold = cfg.Notifications.CleanThreshold
	}
	if cfg.Notifications.UnhealthyThreshold > 0 {
		p.UnhealthyThreshold = cfg.Notifications.UnhealthyThreshold
	}
	if cfg.Notifications.SpikeDelta > 0 {
		p.SpikeDelta = cfg.Notifications.SpikeDelta
	}
	return p
}

// Run blocks until ctx is cancelled, then shuts the supervisor down with a
// bounded grace period.
func (a *App) Run(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("svc", "supervisor"))))

	sup.GoRestart("dispatch", func(ctx context.Context) error {
		return a.Dispatch.Run(ctx, a.checkInterval)
	})
	sup.GoRestart("archive-scheduler", a.Scheduler.Run)
	sup.Go("config-watch", a.cfgMgr.Watch)
	sup.Go0("config-apply", a.applyConfigUpdates)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("auabot running")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		a.log.Warn("shutdown incomplete", logx.Err(err))
		return err
	}
	a.log.Info("auabot stopped")
	return nil
}

// applyConfigUpdates hot-reloads what can change at runtime: log level and
// sinks, and the notification thresholds. Everything else needs a restart.
func (a *App) applyConfigUpdates(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			a.Dispatch.SetPolicy(policyFrom(cfg))
			a.log.Info("runtime config applied")
		}
	}
}

func (a *App) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
}
