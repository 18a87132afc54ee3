// Package app wires the daemon together: config, logging, storage, the
// notification bus, delivery sinks, the dispatch boundary and the
// scheduling engine.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gather/internal/config"
	"gather/internal/dispatch"
	"gather/internal/eventbus"
	"gather/internal/scheduler"
	"gather/internal/storage"
	"gather/internal/sweep"
	"gather/internal/transport/telegram"
	"gather/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	mu         sync.Mutex
	store      storage.Store
	bus        eventbus.Bus
	dispatcher *dispatch.Service
	engine     *scheduler.Engine
	sweeper    *sweep.Service
	unsubCfg   func()
	started    bool
}

// New parses the config and builds the logging stack. Services come up in
// Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	mgr.Commit(cfg)

	logSvc, err := logx.NewService(logConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	log := logSvc.Logger()
	mgr.SetLogger(log)

	return &App{cfgMgr: mgr, logSvc: logSvc, log: log}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	cfg := a.cfgMgr.Current()

	store, err := openStorage(cfg, a.log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	a.bus = eventbus.New()

	creator, err := buildCreator(cfg, store, a.log)
	if err != nil {
		return err
	}

	a.dispatcher = dispatch.New(dispatch.Config{
		RatePerSec: cfg.Dispatch.RatePerSec,
		Burst:      cfg.Dispatch.Burst,
	}, creator, a.bus, store, a.log)

	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		timeout, err := config.ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
		if err != nil {
			return err
		}
		sink, err := telegram.New(telegram.Config{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.ChatID,
			ThreadID: cfg.Telegram.ThreadID,
			Timeout:  timeout,
		}, a.log)
		if err != nil {
			return fmt.Errorf("telegram sink: %w", err)
		}
		a.dispatcher.AddSink(sink)
	}

	a.engine = scheduler.New(a.dispatcher, nil, a.log)
	a.engine.Start(ctx)

	a.rearmStoredEvents(ctx)

	retention, err := config.ParseDurationOrDefault("sweep.retention", cfg.Sweep.Retention, 7*24*time.Hour)
	if err != nil {
		return err
	}
	a.sweeper = sweep.New(sweep.Config{
		Enabled:   cfg.Sweep.Enabled,
		Spec:      cfg.Sweep.Spec,
		Retention: retention,
	}, store, a.engine, a.log)
	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}

	a.watchConfig(ctx)

	a.started = true
	a.log.Info("gatherd started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	if a.unsubCfg != nil {
		a.unsubCfg()
		a.unsubCfg = nil
	}
	if a.sweeper != nil {
		a.sweeper.Stop(ctx)
	}
	if a.engine != nil {
		a.engine.Stop(ctx)
	}
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	a.log.Info("gatherd stopped")
	_ = a.logSvc.Close()
	return err
}

// Engine exposes the scheduling engine to embedding callers (the CRUD
// layer schedules and cancels events through it).
func (a *App) Engine() *scheduler.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// Bus exposes the notification bus so a real-time channel bridge can
// subscribe.
func (a *App) Bus() eventbus.Bus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bus
}

// rearmStoredEvents re-schedules persisted upcoming events after a
// restart. In-flight timers from the previous process are gone; this is a
// convenience, not a durability guarantee.
func (a *App) rearmStoredEvents(ctx context.Context) {
	if a.store == nil {
		return
	}
	evs, err := a.store.ListUpcomingEvents(ctx, time.Now())
	if err != nil {
		a.log.Warn("failed to list stored events", logx.Err(err))
		return
	}
	armed := 0
	for _, ev := range evs {
		if err := a.engine.ScheduleEvent(ev); err != nil {
			a.log.Warn("failed to re-arm stored event",
				logx.String("event_id", ev.ID), logx.Err(err))
			continue
		}
		armed++
	}
	if armed > 0 {
		a.log.Info("stored events re-armed", logx.Int("count", armed))
	}
}

func (a *App) watchConfig(ctx context.Context) {
	if err := a.cfgMgr.Watch(ctx); err != nil {
		a.log.Warn("config watch unavailable", logx.Err(err))
		return
	}
	ch, unsub := a.cfgMgr.Subscribe()
	a.unsubCfg = unsub
	go func() {
		for cfg := range ch {
			if err := a.logSvc.Apply(logConfig(cfg)); err != nil {
				a.log.Warn("failed to apply logging config", logx.Err(err))
			}
			a.dispatcher.Apply(dispatch.Config{
				RatePerSec: cfg.Dispatch.RatePerSec,
				Burst:      cfg.Dispatch.Burst,
			})
		}
	}()
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func openStorage(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
}

func buildCreator(cfg *config.Config, store storage.Store, log logx.Logger) (dispatch.EventCreator, error) {
	if cfg.API != nil && cfg.API.BaseURL != "" {
		timeout, err := config.ParseDurationField("api.timeout", cfg.API.Timeout)
		if err != nil {
			return nil, err
		}
		return dispatch.NewAPICreator(cfg.API.BaseURL, timeout, log)
	}
	return dispatch.NewLocalCreator(store, log), nil
}
