package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

const (
	defaultProcessingTimeout = 5 * time.Minute
	notificationRetention    = 30
)

type notificationSweeper interface {
	ReclaimStuck(ctx context.Context, timeout time.Duration) (int64, error)
	ArchiveTerminal(ctx context.Context, retention time.Duration) (int64, error)
}

type NotificationReclaimJobParams struct {
	Logger  *logger.Logger
	Queue   notificationSweeper
	Timeout time.Duration
}

// NewNotificationReclaimJob returns events stuck in processing to the queue
// after a dispatcher crashed mid-delivery.
func NewNotificationReclaimJob(params NotificationReclaimJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("notification queue required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	return &notificationReclaimJob{logg: params.Logger, queue: params.Queue, timeout: timeout}, nil
}

type notificationReclaimJob struct {
	logg    *logger.Logger
	queue   notificationSweeper
	timeout time.Duration
}

func (j *notificationReclaimJob) Name() string { return "notification-reclaim" }

func (j *notificationReclaimJob) Run(ctx context.Context) error {
	reclaimed, err := j.queue.ReclaimStuck(ctx, j.timeout)
	if err != nil {
		return fmt.Errorf("reclaim stuck notifications: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"timeout_seconds": int64(j.timeout.Seconds()),
		"reclaimed":       reclaimed,
	})
	if reclaimed > 0 {
		j.logg.Warn(logCtx, "requeued notifications stuck in processing")
		return nil
	}
	j.logg.Info(logCtx, "notification reclaim complete")
	return nil
}

type NotificationArchiveJobParams struct {
	Logger        *logger.Logger
	Queue         notificationSweeper
	RetentionDays int
}

func NewNotificationArchiveJob(params NotificationArchiveJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("notification queue required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = notificationRetention
	}
	return &notificationArchiveJob{logg: params.Logger, queue: params.Queue, retention: retention}, nil
}

type notificationArchiveJob struct {
	logg      *logger.Logger
	queue     notificationSweeper
	retention int
}

func (j *notificationArchiveJob) Name() string { return "notification-archive" }

func (j *notificationArchiveJob) Run(ctx context.Context) error {
	archived, err := j.queue.ArchiveTerminal(ctx, time.Duration(j.retention)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("archive notifications: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"retention_days": j.retention,
		"rows_archived":  archived,
	})
	j.logg.Info(logCtx, "notification archive complete")
	return nil
}
