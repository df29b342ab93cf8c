package payments

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/foodops-backend/internal/orders"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

const DefaultReconcileBatchSize = 100

// ReconcileReport summarises one sweep.
type ReconcileReport struct {
	Scanned    int `json:"scanned"`
	Converged  int `json:"converged"`
	Flagged    int `json:"flagged"`
	Unresolved int `json:"unresolved"`
	Failed     int `json:"failed"`
}

// ReconcilePayments re-derives order state for successful transactions the
// real-time path did not converge. Each row runs in its own transaction; row
// failures are logged and aggregated without stopping the sweep.
func (s *Service) ReconcilePayments(ctx context.Context, batchSize int) (ReconcileReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultReconcileBatchSize
	}
	var report ReconcileReport

	pending, err := s.repo.ListUnconverged(ctx, batchSize)
	if err != nil {
		return report, toAPIError(err)
	}

	var errs error
	for i := range pending {
		txn := pending[i]
		report.Scanned++

		var result *RecordResult
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			result, err = s.reconcileOne(ctx, tx, &txn)
			return err
		})
		if err != nil {
			report.Failed++
			s.metrics.PaymentAttempt(txn.Status.String(), metrics.OutcomeError)
			rowCtx := s.logg.WithField(ctx, "provider_reference", txn.ProviderReference)
			s.logg.Error(rowCtx, "payment reconciliation failed", err)
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", txn.ProviderReference, err))
			continue
		}

		switch {
		case result.OrderNotFound:
			report.Unresolved++
		case result.TransitionRejected:
			report.Flagged++
		default:
			report.Converged++
		}
		s.metrics.PaymentAttempt(txn.Status.String(), outcomeOf(result))
	}
	return report, errs
}

func (s *Service) reconcileOne(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction) (*RecordResult, error) {
	repo := s.repo.WithTx(tx)
	ordersRepo := s.orders.WithTx(tx)
	result := &RecordResult{Transaction: txn}

	if txn.OrderID == nil {
		ref := ""
		if txn.OrderReference != nil {
			ref = *txn.OrderReference
		}
		order, err := s.resolveOrder(ctx, ordersRepo, RecordInput{OrderReference: ref})
		if err != nil {
			return nil, err
		}
		if order == nil {
			result.OrderNotFound = true
			return result, nil
		}
		if _, err := repo.LinkOrder(ctx, txn.ID, order.ID, s.now()); err != nil {
			return nil, err
		}
		txn.OrderID = &order.ID
	}

	order, err := ordersRepo.FindByIDForUpdate(ctx, *txn.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		result.OrderNotFound = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	actor := orders.Actor{ID: "payment-reconciler", Kind: enums.ActorKindSystem}
	if err := s.converge(ctx, tx, txn, order, SourceReconcile, actor, result); err != nil {
		return nil, err
	}
	return result, nil
}
