package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/chatflow/internal/store"
)

// Config controls the cleanup schedule. Schedule is a standard five-field
// cron expression; TTL is how long terminal sessions are kept.
type Config struct {
	Schedule      string
	TTL           time.Duration
	VacuumEvery   int // vacuum after this many purges, 0 disables
	CheckInterval time.Duration
}

// Scheduler purges terminal sessions past their retention window on a cron
// schedule. One purge runs at a time.
type Scheduler struct {
	store  store.Store
	cfg    Config
	parser cron.Parser
	sched  cron.Schedule
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runningMu sync.Mutex
	running   bool
	purges    int
}

// NewScheduler creates a Scheduler. The cron expression is parsed eagerly so
// a bad schedule fails at startup, not at the first tick.
func NewScheduler(s store.Store, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 * * * *"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", cfg.Schedule, err)
	}

	return &Scheduler{
		store:  s,
		cfg:    cfg,
		parser: parser,
		sched:  sched,
		logger: logger,
	}, nil
}

// Start launches the background cleanup loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("cleanup scheduler started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("ttl", s.cfg.TTL))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	next := s.sched.Next(time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if now.Before(next) {
				continue
			}
			next = s.sched.Next(now)
			s.runOnce(ctx, now)
		}
	}
}

// runOnce purges terminal sessions older than the TTL. A purge still in
// flight from the previous tick is not stacked.
func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	if !s.tryAcquire() {
		return
	}
	defer s.release()

	cutoff := now.Add(-s.cfg.TTL)
	purged, err := s.store.DeleteTerminalSessionsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("session cleanup failed", slog.String("error", err.Error()))
		return
	}
	if purged > 0 {
		s.logger.Info("purged terminal sessions",
			slog.Int64("count", purged),
			slog.Time("cutoff", cutoff))
	}

	s.purges++
	if s.cfg.VacuumEvery > 0 && s.purges%s.cfg.VacuumEvery == 0 {
		if err := s.store.Vacuum(ctx); err != nil {
			s.logger.Error("vacuum failed", slog.String("error", err.Error()))
		}
	}
}

// RunNow triggers an immediate purge, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runOnce(ctx, time.Now().UTC())
}

// NextRun computes when the schedule fires after the given time.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	return s.sched.Next(from)
}

func (s *Scheduler) tryAcquire() bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	s.running = false
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("cleanup scheduler stopped")
	return nil
}
