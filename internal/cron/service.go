package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job; it should stay below the lock TTL.
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service runs due jobs on a fixed tick while holding the leader lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
	lastRun    map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: params.JobTimeout,
		now:        now,
		lastRun:    map[string]time.Time{},
	}, nil
}

// Run executes a cycle immediately, then on every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

var errLeaseLost = errors.New("cron lease lost")

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "another cron instance is leader; skipping cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	ran := 0
	for _, entry := range s.registry.Entries() {
		if !s.due(entry) {
			continue
		}
		if ran > 0 {
			held, err := s.lock.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("lock refresh: %w", err)
			}
			if !held {
				return errLeaseLost
			}
		}
		s.runJob(ctx, entry.Job)
		ran++
	}
	if ran > 0 {
		s.logg.Info(s.logg.WithField(ctx, "jobs_run", ran), "scheduled run complete")
	}
	return nil
}

func (s *Service) due(entry Entry) bool {
	if entry.Every <= 0 {
		return true
	}
	last, ok := s.lastRun[entry.Job.Name()]
	return !ok || s.now().Sub(last) >= entry.Every
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}

	s.lastRun[name] = s.now()
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if s.metrics != nil {
		s.metrics.ObserveDuration(name, duration)
	}
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		if s.metrics != nil {
			s.metrics.IncFailure(name)
		}
		return
	}
	s.logg.Info(jobCtx, "job completed")
	if s.metrics != nil {
		s.metrics.IncSuccess(name)
	}
}
