// Package sweep runs periodic maintenance: notification retention pruning
// and engine status logging.
package sweep

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gather/internal/scheduler"
	"gather/internal/storage"
	"gather/pkg/logx"
)

type Config struct {
	Enabled bool
	// Spec is a cron expression (minute granularity) or "@every <dur>".
	// Empty defaults to hourly.
	Spec      string
	Retention time.Duration // 0 disables notification pruning
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	store  storage.Store // may be nil
	engine *scheduler.Engine

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store storage.Store, engine *scheduler.Engine, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		cfg:    cfg,
		store:  store,
		engine: engine,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		spec = "@every 1h"
	}

	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		return errors.New("sweep: invalid spec " + spec + ": " + err.Error())
	}
	c.Start()
	s.c = c
	s.log.Info("sweeper started", logx.String("spec", spec), logx.Duration("retention", s.cfg.Retention))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.store != nil && s.cfg.Retention > 0 {
		cutoff := time.Now().Add(-s.cfg.Retention)
		removed, err := s.store.PruneNotifications(runCtx, cutoff)
		if err != nil {
			s.log.Warn("notification prune failed", logx.Err(err))
		} else if removed > 0 {
			s.log.Info("notifications pruned",
				logx.Int("removed", removed), logx.Time("cutoff", cutoff))
		}
	}

	if s.engine != nil {
		snap := s.engine.Snapshot()
		s.log.Debug("engine status",
			logx.Bool("running", snap.Running),
			logx.Int("armed_reminders", len(snap.ReminderKeys)),
			logx.Int("armed_recurrences", len(snap.RecurrenceKeys)))
	}
}
