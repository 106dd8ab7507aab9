package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
)

const (
	defaultTickInterval = time.Minute
	defaultConcurrency  = 8
)

// Sweeper is a periodic check that runs before promotion, e.g. expired door
// timers or devices that missed their heartbeat.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) error
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func(ctx context.Context, now time.Time) error

// Sweep calls f.
func (f SweeperFunc) Sweep(ctx context.Context, now time.Time) error {
	return f(ctx, now)
}

// Scheduler is the recurring escalation pass over unresolved alerts.
type Scheduler struct {
	service     *Service
	alerts      alerts.Repository
	sweepers    []Sweeper
	interval    time.Duration
	concurrency int
	clock       Clock
	logger      *zap.Logger
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the tick interval.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithConcurrency bounds how many alerts are processed at once.
func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSweepers registers checks run at the start of every tick.
func WithSweepers(sweepers ...Sweeper) SchedulerOption {
	return func(s *Scheduler) {
		for _, sweeper := range sweepers {
			if sweeper != nil {
				s.sweepers = append(s.sweepers, sweeper)
			}
		}
	}
}

// WithSchedulerClock assigns a clock.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSchedulerLogger assigns a logger.
func WithSchedulerLogger(logger *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs an escalation scheduler.
func NewScheduler(service *Service, repo alerts.Repository, opts ...SchedulerOption) (*Scheduler, error) {
	if service == nil {
		return nil, errors.New("scheduler: nil service")
	}
	if repo == nil {
		return nil, errors.New("scheduler: nil repository")
	}
	s := &Scheduler{
		service:     service,
		alerts:      repo,
		interval:    defaultTickInterval,
		concurrency: defaultConcurrency,
		clock:       systemClock{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("scheduler: nil")
	}
	s.logger.Info("escalation scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("escalation tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("escalation scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: sweepers first, then promotion and notification retry
// for every unresolved alert. Failures of one alert never stop the others.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := time.Now()
	now := s.clock.Now().UTC()

	for _, sweeper := range s.sweepers {
		if err := sweeper.Sweep(ctx, now); err != nil {
			s.logger.Warn("sweep failed", zap.Error(err))
		}
	}

	open, err := s.alerts.ListOpen(ctx)
	if err != nil {
		metrics.ObserveSchedulerTick(metrics.ResultError, time.Since(start))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, alert := range open {
		id := alert.ID
		g.Go(func() error {
			if err := s.service.Advance(gctx, id, now); err != nil {
				s.logger.Warn("advance alert failed", zap.String("alert_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.ObserveSchedulerTick(metrics.ResultSuccess, time.Since(start))
	s.logger.Debug("escalation tick done", zap.Int("open_alerts", len(open)))
	return nil
}
