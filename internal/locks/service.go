package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/foodops-backend/pkg/db"
	"github.com/angelmondragon/foodops-backend/pkg/db/models"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/metrics"
)

const (
	DefaultTTL        = 30 * time.Second
	MinTTL            = time.Second
	maxInsertAttempts = 2
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ManagerParams wires the lock manager.
type ManagerParams struct {
	Repo       Repository
	Tx         txRunner
	Logger     *logger.Logger
	Metrics    *metrics.DomainMetrics
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	Now        func() time.Time
}

// Manager grants short-lived advisory edit locks on orders.
type Manager struct {
	repo       Repository
	tx         txRunner
	logg       *logger.Logger
	metrics    *metrics.DomainMetrics
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("lock repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	defaultTTL := params.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	maxTTL := params.MaxTTL
	if maxTTL < defaultTTL {
		maxTTL = defaultTTL
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		repo:       params.Repo,
		tx:         params.Tx,
		logg:       params.Logger,
		metrics:    params.Metrics,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		now:        now,
	}, nil
}

// Acquire grants holderID the lock on orderID, or fails immediately with a
// *ConflictError naming the current holder. Re-acquiring a held lock extends it.
func (m *Manager) Acquire(ctx context.Context, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, error) {
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return nil, toAPIError(ErrInvalidHolder)
	}

	var lock *models.OrderLock
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		lock, _, err = m.acquire(ctx, m.repo.WithTx(tx), orderID, holderID, m.clampTTL(ttl))
		return err
	})
	m.logAcquire(ctx, orderID, holderID, err)
	if err != nil {
		return nil, toAPIError(err)
	}
	return lock, nil
}

// Renew extends an unexpired lock held by holderID.
func (m *Manager) Renew(ctx context.Context, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, error) {
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return nil, toAPIError(ErrInvalidHolder)
	}

	var lock *models.OrderLock
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		now := m.now()
		expiresAt := now.Add(m.clampTTL(ttl))

		n, err := repo.Extend(ctx, orderID, holderID, now, expiresAt)
		if err != nil {
			return err
		}
		if n == 0 {
			return m.renewFailure(ctx, repo, orderID, holderID, now)
		}
		lock, err = repo.FindActive(ctx, orderID)
		return err
	})
	if err != nil {
		m.logContention(ctx, orderID, holderID, "lock renew rejected", err)
		return nil, toAPIError(err)
	}
	return lock, nil
}

func (m *Manager) renewFailure(ctx context.Context, repo Repository, orderID uuid.UUID, holderID string, now time.Time) error {
	current, err := repo.FindActive(ctx, orderID)
	switch {
	case err == nil && current.HolderID != holderID && current.ExpiresAt.After(now):
		return ErrNotHolder
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	latest, err := repo.FindLatestByHolder(ctx, orderID, holderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotHolder
	}
	if err != nil {
		return err
	}
	expired := latest.ReleasedAt == nil && !latest.ExpiresAt.After(now)
	swept := latest.ReleaseReason != nil && *latest.ReleaseReason == ReasonExpired
	if expired || swept {
		return ErrExpired
	}
	return ErrNotHolder
}

// Release frees the lock held by holderID. Releasing an already released or
// expired lock succeeds; releasing another holder's live lock fails.
func (m *Manager) Release(ctx context.Context, orderID uuid.UUID, holderID string) error {
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return toAPIError(ErrInvalidHolder)
	}

	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return m.release(ctx, m.repo.WithTx(tx), orderID, holderID)
	})
	if err != nil {
		m.logContention(ctx, orderID, holderID, "lock release rejected", err)
		return toAPIError(err)
	}
	return nil
}

func (m *Manager) release(ctx context.Context, repo Repository, orderID uuid.UUID, holderID string) error {
	now := m.now()
	n, err := repo.Release(ctx, orderID, holderID, now)
	if err != nil || n > 0 {
		return err
	}

	current, err := repo.FindActive(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.HolderID != holderID && current.ExpiresAt.After(now) {
		return ErrNotHolder
	}
	return nil
}

// GetActive returns the live lock on orderID, or nil when the order is free.
func (m *Manager) GetActive(ctx context.Context, orderID uuid.UUID) (*models.OrderLock, error) {
	lock, err := m.repo.FindActive(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, toAPIError(err)
	}
	if !lock.ExpiresAt.After(m.now()) {
		return nil, nil
	}
	return lock, nil
}

// SweepExpired marks up to limit expired locks released. Safe to run
// concurrently with itself and with acquisitions.
func (m *Manager) SweepExpired(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	return m.repo.SweepExpired(ctx, m.now(), limit)
}

// Hold ensures holderID owns the lock on orderID for the duration of tx. A
// lock acquired here is released through the returned func before tx
// commits; a lock the holder already owned is left in place.
func (m *Manager) Hold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, holderID string) (func() error, error) {
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return nil, toAPIError(ErrInvalidHolder)
	}

	repo := m.repo.WithTx(tx)
	_, fresh, err := m.acquire(ctx, repo, orderID, holderID, m.defaultTTL)
	m.logAcquire(ctx, orderID, holderID, err)
	if err != nil {
		return nil, toAPIError(err)
	}
	if !fresh {
		return func() error { return nil }, nil
	}
	return func() error {
		return m.release(ctx, repo, orderID, holderID)
	}, nil
}

func (m *Manager) acquire(ctx context.Context, repo Repository, orderID uuid.UUID, holderID string, ttl time.Duration) (*models.OrderLock, bool, error) {
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		now := m.now()
		if _, err := repo.ExpireActive(ctx, orderID, now); err != nil {
			return nil, false, err
		}

		lock := &models.OrderLock{
			ID:         uuid.New(),
			OrderID:    orderID,
			HolderID:   holderID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		inserted, err := repo.Insert(ctx, lock)
		if db.IsForeignKeyViolation(err, "") {
			return nil, false, ErrOrderNotFound
		}
		if err != nil {
			return nil, false, err
		}
		if inserted {
			return lock, true, nil
		}

		current, err := repo.FindActive(ctx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// released between the insert and the read
			continue
		}
		if err != nil {
			return nil, false, err
		}

		if current.HolderID == holderID {
			expiresAt := now.Add(ttl)
			if _, err := repo.Extend(ctx, orderID, holderID, now, expiresAt); err != nil {
				return nil, false, err
			}
			current.ExpiresAt = expiresAt
			return current, false, nil
		}

		return nil, false, &ConflictError{
			HolderID:  current.HolderID,
			ExpiresAt: current.ExpiresAt,
			Remaining: current.Remaining(now),
		}
	}
	return nil, false, ErrAlreadyLocked
}

func (m *Manager) clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return m.defaultTTL
	case ttl < MinTTL:
		return MinTTL
	case ttl > m.maxTTL:
		return m.maxTTL
	}
	return ttl
}

func (m *Manager) logAcquire(ctx context.Context, orderID uuid.UUID, holderID string, err error) {
	switch {
	case err == nil:
		m.metrics.LockAcquisition(metrics.OutcomeAcquired)
	case errors.Is(err, ErrAlreadyLocked):
		m.metrics.LockAcquisition(metrics.OutcomeContended)
		m.logContention(ctx, orderID, holderID, "order lock contended", err)
	case errors.Is(err, ErrOrderNotFound):
		m.metrics.LockAcquisition(metrics.OutcomeRejected)
		m.logContention(ctx, orderID, holderID, "order lock requested for unknown order", err)
	default:
		m.metrics.LockAcquisition(metrics.OutcomeError)
		ctx = m.logg.WithLockHolder(ctx, orderID.String(), holderID)
		m.logg.Error(ctx, "order lock acquisition failed", err)
	}
}

// logContention records expected lock conflicts at info level.
func (m *Manager) logContention(ctx context.Context, orderID uuid.UUID, holderID, msg string, err error) {
	ctx = m.logg.WithLockHolder(ctx, orderID.String(), holderID)
	m.logg.Info(m.logg.WithField(ctx, "reason", err.Error()), msg)
}
