package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/foodops-backend/internal/payments"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test"})
}

type fakeLockSweeper struct {
	limit int
	swept int64
	err   error
}

func (f *fakeLockSweeper) SweepExpired(_ context.Context, limit int) (int64, error) {
	f.limit = limit
	return f.swept, f.err
}

func TestLockSweepJobUsesDefaultLimit(t *testing.T) {
	sweeper := &fakeLockSweeper{swept: 3}
	job, err := NewLockSweepJob(LockSweepJobParams{Logger: testLogger(), Locks: sweeper})
	if err != nil {
		t.Fatalf("NewLockSweepJob: %v", err)
	}
	if job.Name() != "lock-sweep" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.limit != defaultLockSweepLimit {
		t.Fatalf("expected limit %d, got %d", defaultLockSweepLimit, sweeper.limit)
	}
}

func TestLockSweepJobPropagatesError(t *testing.T) {
	job, err := NewLockSweepJob(LockSweepJobParams{
		Logger: testLogger(),
		Locks:  &fakeLockSweeper{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewLockSweepJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestJobsRequireDependencies(t *testing.T) {
	if _, err := NewLockSweepJob(LockSweepJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected lock sweep job to require a lock manager")
	}
	if _, err := NewPaymentReconcileJob(PaymentReconcileJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected reconcile job to require a reconciler")
	}
	if _, err := NewNotificationReclaimJob(NotificationReclaimJobParams{Queue: &fakeNotificationQueue{}}); err == nil {
		t.Fatal("expected reclaim job to require a logger")
	}
	if _, err := NewNotificationArchiveJob(NotificationArchiveJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected archive job to require a queue")
	}
}

type fakeReconciler struct {
	batch  int
	report payments.ReconcileReport
	err    error
}

func (f *fakeReconciler) ReconcilePayments(_ context.Context, batchSize int) (payments.ReconcileReport, error) {
	f.batch = batchSize
	return f.report, f.err
}

func TestPaymentReconcileJobPassesBatchSize(t *testing.T) {
	reconciler := &fakeReconciler{report: payments.ReconcileReport{Scanned: 2, Converged: 1, Flagged: 1}}
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:     testLogger(),
		Reconciler: reconciler,
		BatchSize:  25,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reconciler.batch != 25 {
		t.Fatalf("expected batch 25, got %d", reconciler.batch)
	}
}

func TestPaymentReconcileJobDefaultsBatchAndPropagatesError(t *testing.T) {
	reconciler := &fakeReconciler{err: errors.New("row failed")}
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{Logger: testLogger(), Reconciler: reconciler})
	if err != nil {
		t.Fatalf("NewPaymentReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if reconciler.batch != payments.DefaultReconcileBatchSize {
		t.Fatalf("expected default batch %d, got %d", payments.DefaultReconcileBatchSize, reconciler.batch)
	}
}

type fakeNotificationQueue struct {
	timeout   time.Duration
	retention time.Duration
	reclaimed int64
	archived  int64
	err       error
}

func (f *fakeNotificationQueue) ReclaimStuck(_ context.Context, timeout time.Duration) (int64, error) {
	f.timeout = timeout
	return f.reclaimed, f.err
}

func (f *fakeNotificationQueue) ArchiveTerminal(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return f.archived, f.err
}

func TestNotificationReclaimJob(t *testing.T) {
	queue := &fakeNotificationQueue{reclaimed: 4}
	job, err := NewNotificationReclaimJob(NotificationReclaimJobParams{Logger: testLogger(), Queue: queue})
	if err != nil {
		t.Fatalf("NewNotificationReclaimJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if queue.timeout != defaultProcessingTimeout {
		t.Fatalf("expected timeout %s, got %s", defaultProcessingTimeout, queue.timeout)
	}

	queue.err = errors.New("db down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNotificationArchiveJobConvertsRetentionDays(t *testing.T) {
	queue := &fakeNotificationQueue{archived: 10}
	job, err := NewNotificationArchiveJob(NotificationArchiveJobParams{
		Logger:        testLogger(),
		Queue:         queue,
		RetentionDays: 7,
	})
	if err != nil {
		t.Fatalf("NewNotificationArchiveJob: %v", err)
	}
	if job.Name() != "notification-archive" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if queue.retention != 7*24*time.Hour {
		t.Fatalf("expected 7 day retention, got %s", queue.retention)
	}
}
