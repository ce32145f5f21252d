// Package scheduler runs sync passes periodically.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/caldora-sync/syncengine"
	"github.com/robfig/cron/v3"
)

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 15 * time.Minute

// Syncer runs one pass. syncengine.Engine implements it.
type Syncer interface {
	Sync(ctx context.Context, calendarURLs []string) (*syncengine.Result, error)
}

// Config controls a Scheduler.
type Config struct {
	Interval time.Duration
	// Calendars returns the URLs to sync on each tick.
	Calendars func(ctx context.Context) ([]string, error)
	Location  *time.Location
	Logger    *slog.Logger
	// OnResult, if set, is called after every pass.
	OnResult func(*syncengine.Result, error)
}

type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

func New(syncer Syncer, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "scheduler")

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		cron:   c,
		syncer: syncer,
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs a pass immediately, then every Interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Calendars == nil {
		return errors.New("no calendar source configured")
	}

	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("add sync job: %w", err)
	}

	s.RunOnce(ctx)

	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "tz", s.cfg.Location.String())

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunOnce resolves the calendar list and runs one pass.
func (s *Scheduler) RunOnce(ctx context.Context) (*syncengine.Result, error) {
	res, err := s.run(ctx)
	if err != nil {
		s.logger.Error("sync pass failed", "error", err)
	} else if res.Busy {
		s.logger.Debug("sync pass skipped, previous pass still running")
	}
	if s.cfg.OnResult != nil {
		s.cfg.OnResult(res, err)
	}
	return res, err
}

func (s *Scheduler) run(ctx context.Context) (*syncengine.Result, error) {
	urls, err := s.cfg.Calendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve calendars: %w", err)
	}
	if len(urls) == 0 {
		s.logger.Info("no calendars to sync")
		return &syncengine.Result{}, nil
	}

	res, err := s.syncer.Sync(ctx, urls)
	if err == nil && !res.Busy {
		s.mu.Lock()
		s.lastRun = time.Now()
		s.mu.Unlock()
	}
	return res, err
}

// LastRun is the time the last completed pass finished, or zero.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
