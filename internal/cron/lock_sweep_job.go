package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

const defaultLockSweepLimit = 500

type LockSweepJobParams struct {
	Logger *logger.Logger
	Locks  lockSweeper
	Limit  int
}

type lockSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int64, error)
}

// NewLockSweepJob deactivates order locks whose expiry has passed.
func NewLockSweepJob(params LockSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock manager required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultLockSweepLimit
	}
	return &lockSweepJob{logg: params.Logger, locks: params.Locks, limit: limit}, nil
}

type lockSweepJob struct {
	logg  *logger.Logger
	locks lockSweeper
	limit int
}

func (j *lockSweepJob) Name() string { return "lock-sweep" }

func (j *lockSweepJob) Run(ctx context.Context) error {
	swept, err := j.locks.SweepExpired(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("sweep expired locks: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"limit":       j.limit,
		"locks_swept": swept,
	})
	j.logg.Info(logCtx, "expired lock sweep complete")
	return nil
}
