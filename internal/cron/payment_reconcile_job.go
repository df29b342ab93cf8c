package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/foodops-backend/internal/payments"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

type PaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler paymentReconciler
	BatchSize  int
}

type paymentReconciler interface {
	ReconcilePayments(ctx context.Context, batchSize int) (payments.ReconcileReport, error)
}

// NewPaymentReconcileJob re-drives successful transactions whose order never
// reached the paid state.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("payment reconciler required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = payments.DefaultReconcileBatchSize
	}
	return &paymentReconcileJob{logg: params.Logger, reconciler: params.Reconciler, batch: batch}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	reconciler paymentReconciler
	batch      int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	report, err := j.reconciler.ReconcilePayments(ctx, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batch_size": j.batch,
		"scanned":    report.Scanned,
		"converged":  report.Converged,
		"flagged":    report.Flagged,
		"unresolved": report.Unresolved,
		"failed":     report.Failed,
	})
	if err != nil {
		return fmt.Errorf("payment reconcile: %w", err)
	}
	if report.Flagged > 0 {
		j.logg.Warn(logCtx, "payment reconcile flagged orders for review")
		return nil
	}
	j.logg.Info(logCtx, "payment reconcile complete")
	return nil
}
