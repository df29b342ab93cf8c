package notifications

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/db/dbtest"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *dbtest.Clock) {
	t.Helper()
	conn := dbtest.Open(t)
	clock := dbtest.NewClock()
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(conn),
		Tx:         db.NewFromConn(conn),
		Logger:     logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard}),
		MaxRetries: 3,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return svc, conn, clock
}

func orderStatusRequest(orderID uuid.UUID) Request {
	return Request{
		EventType:   "order_status_changed",
		Recipient:   "Customer@Example.com",
		TemplateKey: "order_status_confirmed",
		Variables:   map[string]any{"status": "confirmed"},
		OrderID:     &orderID,
	}
}

func countEvents(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.CommunicationEvent{}).Count(&n).Error)
	return n
}

func TestEnqueue_CreatesQueuedEvent(t *testing.T) {
	svc, conn, clock := newTestService(t)
	orderID := dbtest.SeedOrder(t, conn).ID

	res := svc.Enqueue(context.Background(), orderStatusRequest(orderID))
	require.True(t, res.Success)
	assert.False(t, res.Skipped)
	assert.Equal(t, metrics.OutcomeCreated, res.Outcome)

	var event models.CommunicationEvent
	require.NoError(t, conn.First(&event, "id = ?", res.EventID).Error)
	assert.Equal(t, enums.CommunicationStatusQueued, event.Status)
	assert.Equal(t, "Customer@Example.com", event.Recipient)
	assert.Equal(t, defaultSource, event.Source)
	assert.True(t, event.CreatedAt.Equal(clock.Now()))
	assert.JSONEq(t, `{"status":"confirmed"}`, string(event.TemplateVariables))
}

func TestEnqueue_DuplicateWithinBucketIsSkipped(t *testing.T) {
	svc, conn, clock := newTestService(t)
	ctx := context.Background()
	orderID := dbtest.SeedOrder(t, conn).ID

	first := svc.Enqueue(ctx, orderStatusRequest(orderID))
	require.True(t, first.Success)

	clock.Advance(20 * time.Second)
	req := orderStatusRequest(orderID)
	req.Recipient = "  customer@example.COM "
	second := svc.Enqueue(ctx, req)
	require.True(t, second.Success)
	assert.True(t, second.Skipped)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Equal(t, first.EventID, second.EventID)
	assert.EqualValues(t, 1, countEvents(t, conn))
}

func TestEnqueue_NextBucketAndNonceCreateNewEvents(t *testing.T) {
	svc, conn, clock := newTestService(t)
	ctx := context.Background()
	orderID := dbtest.SeedOrder(t, conn).ID

	require.False(t, svc.Enqueue(ctx, orderStatusRequest(orderID)).Skipped)

	withNonce := orderStatusRequest(orderID)
	withNonce.Nonce = "history-1"
	require.False(t, svc.Enqueue(ctx, withNonce).Skipped)

	clock.Advance(time.Minute)
	require.False(t, svc.Enqueue(ctx, orderStatusRequest(orderID)).Skipped)

	assert.EqualValues(t, 3, countEvents(t, conn))
}

func TestEnqueue_ConcurrentCallersCreateOneEvent(t *testing.T) {
	svc, conn, _ := newTestService(t)
	req := orderStatusRequest(dbtest.SeedOrder(t, conn).ID)

	results := make([]Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Enqueue(context.Background(), req)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, res := range results {
		require.True(t, res.Success, "unexpected failure %+v", res)
		assert.Equal(t, results[0].EventID, res.EventID)
		if !res.Skipped {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.EqualValues(t, 1, countEvents(t, conn))
}

func TestEnqueue_FailedEventIsRequeuedUntilRetriesExhausted(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	req := orderStatusRequest(dbtest.SeedOrder(t, conn).ID)

	first := svc.Enqueue(ctx, req)
	require.NoError(t, conn.Model(&models.CommunicationEvent{}).
		Where("id = ?", first.EventID).
		Updates(map[string]any{"status": enums.CommunicationStatusFailed, "retry_count": 1, "error_detail": "smtp timeout"}).Error)

	requeued := svc.Enqueue(ctx, req)
	require.True(t, requeued.Success)
	assert.Equal(t, metrics.OutcomeRequeued, requeued.Outcome)
	assert.Equal(t, first.EventID, requeued.EventID)

	event, err := svc.Get(ctx, first.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommunicationStatusQueued, event.Status)
	assert.Nil(t, event.ErrorDetail)
	assert.Equal(t, 1, event.RetryCount)

	require.NoError(t, conn.Model(&models.CommunicationEvent{}).
		Where("id = ?", first.EventID).
		Updates(map[string]any{"status": enums.CommunicationStatusFailed, "retry_count": 3}).Error)

	exhausted := svc.Enqueue(ctx, req)
	assert.True(t, exhausted.Skipped)
	assert.Equal(t, ReasonRetryExhausted, exhausted.Reason)

	event, err = svc.Get(ctx, first.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommunicationStatusFailed, event.Status)
}

func TestEnqueue_SentEventIsNotRequeued(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	req := orderStatusRequest(dbtest.SeedOrder(t, conn).ID)

	first := svc.Enqueue(ctx, req)
	require.NoError(t, conn.Model(&models.CommunicationEvent{}).
		Where("id = ?", first.EventID).
		Update("status", enums.CommunicationStatusSent).Error)

	again := svc.Enqueue(ctx, req)
	assert.True(t, again.Skipped)
	assert.Equal(t, ReasonDuplicate, again.Reason)
}

func TestEnqueue_InvalidRequestIsNonBlocking(t *testing.T) {
	svc, conn, _ := newTestService(t)

	res := svc.Enqueue(context.Background(), Request{EventType: "order_status_changed", TemplateKey: "x"})
	assert.False(t, res.Success)
	assert.True(t, res.NonBlocking)
	assert.Equal(t, ReasonInvalid, res.Reason)
	assert.EqualValues(t, 0, countEvents(t, conn))
}

func TestEnqueueTx_StorageFailureDoesNotAbortCaller(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, conn.Exec("DROP TABLE communication_events").Error)

	var res Result
	var order *models.Order
	err := conn.Transaction(func(tx *gorm.DB) error {
		order = dbtest.SeedOrder(t, tx)
		res = svc.EnqueueTx(ctx, tx, orderStatusRequest(order.ID))
		return tx.Model(&models.Order{}).Where("id = ?", order.ID).Update("reconciliation_note", "after enqueue").Error
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.NonBlocking)
	assert.Equal(t, ReasonStorage, res.Reason)

	var stored models.Order
	require.NoError(t, conn.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.ReconciliationNote)
	assert.Equal(t, "after enqueue", *stored.ReconciliationNote)
}

func TestEnqueueTx_RollsBackWithCaller(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	boom := errors.New("caller failed")

	err := conn.Transaction(func(tx *gorm.DB) error {
		res := svc.EnqueueTx(ctx, tx, orderStatusRequest(dbtest.SeedOrder(t, tx).ID))
		require.True(t, res.Success)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 0, countEvents(t, conn))
}

func TestDispatchLifecycle(t *testing.T) {
	svc, conn, clock := newTestService(t)
	ctx := context.Background()

	low := svc.Enqueue(ctx, Request{EventType: "digest", Recipient: "a@example.com", TemplateKey: "digest"})
	high := orderStatusRequest(dbtest.SeedOrder(t, conn).ID)
	high.Priority = 10
	urgent := svc.Enqueue(ctx, high)

	claimed, token, err := svc.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, urgent.EventID, claimed[0].ID)
	assert.Equal(t, enums.CommunicationStatusProcessing, claimed[0].Status)

	again, _, err := svc.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, svc.MarkSent(ctx, urgent.EventID, token))
	err = svc.MarkSent(ctx, low.EventID, "other-token")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	require.NoError(t, svc.MarkFailed(ctx, low.EventID, token, errors.New("provider unavailable"), true))
	event, err := svc.Get(ctx, low.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommunicationStatusQueued, event.Status)
	assert.Equal(t, 1, event.RetryCount)
	require.NotNil(t, event.ErrorDetail)
	assert.Equal(t, "provider unavailable", *event.ErrorDetail)

	clock.Advance(time.Second)
	require.NoError(t, svc.ReportDelivery(ctx, urgent.EventID, enums.CommunicationStatusDelivered, nil))
	delivered, err := svc.Get(ctx, urgent.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommunicationStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)

	// late bounce after delivery is ignored
	require.NoError(t, svc.ReportDelivery(ctx, urgent.EventID, enums.CommunicationStatusBounced, nil))
	delivered, err = svc.Get(ctx, urgent.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommunicationStatusDelivered, delivered.Status)
}

func TestMarkFailed_ExhaustsRetryBudget(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	res := svc.Enqueue(ctx, orderStatusRequest(dbtest.SeedOrder(t, conn).ID))

	for i := 0; i < 3; i++ {
		claimed, token, err := svc.ClaimBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, svc.MarkFailed(ctx, res.EventID, token, errors.New("timeout"), true))
	}

	event, err := svc.Get(ctx, res.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.CommunicationStatusFailed, event.Status)
	assert.Equal(t, 3, event.RetryCount)

	claimed, _, err := svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMarkFailed_TruncatesDetailOnRuneBoundary(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	res := svc.Enqueue(ctx, orderStatusRequest(dbtest.SeedOrder(t, conn).ID))

	_, token, err := svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	detail := strings.Repeat("a", maxErrorDetailLen-1) + "é…"
	require.NoError(t, svc.MarkFailed(ctx, res.EventID, token, errors.New(detail), true))

	event, err := svc.Get(ctx, res.EventID)
	require.NoError(t, err)
	require.NotNil(t, event.ErrorDetail)
	assert.True(t, utf8.ValidString(*event.ErrorDetail))
	assert.Equal(t, strings.Repeat("a", maxErrorDetailLen-1), *event.ErrorDetail)
	assert.Equal(t, enums.CommunicationStatusQueued, event.Status)
	assert.Equal(t, 1, event.RetryCount)
}

func TestTruncateDetail(t *testing.T) {
	assert.Equal(t, "short", truncateDetail("short"))
	assert.Equal(t, "bad\uFFFDbyte", truncateDetail("bad\xffbyte"))

	long := strings.Repeat("ü", maxErrorDetailLen)
	got := truncateDetail(long)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxErrorDetailLen)
	assert.Equal(t, maxErrorDetailLen/2, utf8.RuneCountInString(got))
}

func TestReportDelivery_UnknownEvent(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.ReportDelivery(context.Background(), uuid.New(), enums.CommunicationStatusDelivered, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	err = svc.ReportDelivery(context.Background(), uuid.New(), enums.CommunicationStatusQueued, nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestReclaimStuckAndArchive(t *testing.T) {
	svc, conn, clock := newTestService(t)
	ctx := context.Background()

	stuck := svc.Enqueue(ctx, orderStatusRequest(dbtest.SeedOrder(t, conn).ID))
	_, _, err := svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	n, err := svc.ReclaimStuck(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(4 * time.Minute)
	n, err = svc.ReclaimStuck(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	claimed, token, err := svc.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, stuck.EventID, claimed[0].ID)
	require.NoError(t, svc.MarkSent(ctx, stuck.EventID, token))

	queued := svc.Enqueue(ctx, Request{EventType: "digest", Recipient: "b@example.com", TemplateKey: "digest"})

	clock.Advance(31 * 24 * time.Hour)
	n, err = svc.ArchiveTerminal(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	archived, err := svc.Get(ctx, stuck.EventID)
	require.NoError(t, err)
	assert.NotNil(t, archived.ArchivedAt)

	pending, err := svc.Get(ctx, queued.EventID)
	require.NoError(t, err)
	assert.Nil(t, pending.ArchivedAt)
}

func TestDedupeKey(t *testing.T) {
	orderID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	req := orderStatusRequest(orderID)

	base := DedupeKey(req, at, time.Minute)
	assert.Len(t, base, 64)
	assert.Equal(t, base, DedupeKey(req, at.Add(40*time.Second), time.Minute))
	assert.NotEqual(t, base, DedupeKey(req, at.Add(50*time.Second), time.Minute))

	req.Nonce = "n1"
	withNonce := DedupeKey(req, at, time.Minute)
	assert.NotEqual(t, base, withNonce)
	assert.Equal(t, withNonce, DedupeKey(req, at.Add(time.Hour), time.Minute))

	req.DedupeKey = "explicit"
	assert.Equal(t, "explicit", DedupeKey(req, at, time.Minute))
}
