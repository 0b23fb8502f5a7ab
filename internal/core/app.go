package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"triggerd/internal/config"
	"triggerd/internal/eventbus"
	"triggerd/internal/runtime/supervisor"
	"triggerd/internal/storage"
	"triggerd/internal/trigger"
	"triggerd/pkg/logx"
)

// App wires the config manager, logging service, trigger engine and the
// optional fire-audit store into one process.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// bootStorage is the storage section the store was opened with, kept
	// to detect hot-reload changes that need a restart.
	bootStorage *config.StorageConfig

	trig *trigger.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("fire audit enabled", logx.String("driver", sc.Driver))
	}

	trig := trigger.New(trigger.Config{
		DefaultTimezone:  cfg.Trigger.DefaultTimezone,
		HistorySize:      cfg.Trigger.HistorySize,
		FailureLogPerSec: cfg.Trigger.FailureLogPerSec,
	}, log.With(logx.String("comp", "trigger")), bus)

	if store != nil {
		trig.OnFire("audit", func(ctx context.Context, ev trigger.FireEvent) error {
			return store.AppendFire(ctx, storage.FireRecord{
				EventID:    ev.EventID,
				ScheduleID: ev.ScheduleID,
				TargetID:   ev.TargetID,
				FiredAt:    ev.FiredAt,
				Manual:     ev.Manual,
				Params:     ev.Params,
			})
		})
	}

	app := &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		bootStorage: cfg.Storage,
		trig:        trig,
	}
	if err := app.syncSchedules(cfg); err != nil {
		return nil, err
	}
	return app, nil
}

// Trigger exposes the engine for embedding callers (manual fires,
// runtime registration, snapshots).
func (a *App) Trigger() *trigger.Service { return a.trig }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if cfg.Trigger.HistorySize < 0 {
			return fmt.Errorf("trigger.history_size must be >= 0")
		}
		if cfg.Trigger.FailureLogPerSec < 0 {
			return fmt.Errorf("trigger.failure_log_per_sec must be >= 0")
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.trig.Start(a.sup.Context())

	// Debug-level event tap (components can also subscribe themselves).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("schedules", len(a.trig.List())))
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg.Logging))

	// Storage driver changes need a restart; the open handle keeps its
	// original settings.
	if storageChanged(a.bootStorage, cfg.Storage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if err := a.syncSchedules(cfg); err != nil {
		a.log.Warn("schedule re-sync failed", logx.Err(err))
		return
	}
	a.log.Info("config reloaded", logx.Int("schedules", len(cfg.Schedules)))
}

// syncSchedules reconciles the registered set against the declared one:
// removed ids are unregistered, changed definitions re-registered (which
// resets their timers), and an enabled-only flip goes through SetEnabled
// so an unchanged schedule keeps its pending timer.
func (a *App) syncSchedules(cfg *config.Config) error {
	desired := make(map[string]trigger.Schedule, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		desired[sc.ID] = trigger.Schedule{
			ID:         sc.ID,
			Expression: sc.Expression,
			Label:      sc.Label,
			TargetID:   sc.Target,
			Timezone:   sc.Timezone,
			Params:     sc.Params,
			Enabled:    sc.IsEnabled(),
		}
	}

	current := make(map[string]trigger.Schedule)
	for _, s := range a.trig.List() {
		current[s.ID] = s
	}

	for id := range current {
		if _, ok := desired[id]; !ok {
			if err := a.trig.Unregister(id); err == nil {
				a.log.Info("schedule removed", logx.String("schedule", id))
			}
		}
	}

	for id, want := range desired {
		have, exists := current[id]
		if exists && scheduleEqual(have, want) {
			continue
		}
		if exists && scheduleEqualExceptEnabled(have, want) {
			if err := a.trig.SetEnabled(id, want.Enabled); err != nil {
				return err
			}
			continue
		}
		if err := a.trig.Register(want); err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
		if !exists {
			a.log.Info("schedule added",
				logx.String("schedule", id),
				logx.String("expression", want.Expression))
		} else {
			a.log.Info("schedule updated", logx.String("schedule", id))
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	a.trig.Stop(ctx)

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	err := a.sup.Wait(waitCtx)

	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.log.Warn("closing store", logx.Err(cerr))
		}
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// ---- config mapping ----

func mapLogConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	bt, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        sc.Path,
		BusyTimeout: bt,
	}, true, nil
}

func storageChanged(boot, sc *config.StorageConfig) bool {
	if boot == nil && sc == nil {
		return false
	}
	if boot == nil || sc == nil {
		return true
	}
	return *boot != *sc
}

func scheduleEqual(a, b trigger.Schedule) bool {
	return a.Enabled == b.Enabled && scheduleEqualExceptEnabled(a, b)
}

func scheduleEqualExceptEnabled(a, b trigger.Schedule) bool {
	if a.Expression != b.Expression || a.Label != b.Label ||
		a.TargetID != b.TargetID || a.Timezone != b.Timezone {
		return false
	}
	if len(a.Params) != len(b.Params) {
		return false
	}
	for k, v := range a.Params {
		if b.Params[k] != v {
			return false
		}
	}
	return true
}
