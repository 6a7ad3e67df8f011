package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/idempotency"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/ledger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/reservation"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/transaction"
)

// === インメモリのフェイク実装（シナリオテスト用）===

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeTxManager struct{}

func (fakeTxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	return fakeTx{}, nil
}

type fakeReservationRepo struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*reservation.Reservation
	bySaga map[string]uuid.UUID
}

func newFakeReservationRepo() *fakeReservationRepo {
	return &fakeReservationRepo{
		byID:   make(map[uuid.UUID]*reservation.Reservation),
		bySaga: make(map[string]uuid.UUID),
	}
}

func (f *fakeReservationRepo) Create(ctx context.Context, tx transaction.Tx, r *reservation.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bySaga[r.SagaID]; ok {
		return reservation.ErrSagaIDAlreadyExists
	}
	clone := *r
	f.byID[r.ReservationID] = &clone
	f.bySaga[r.SagaID] = r.ReservationID
	return nil
}

func (f *fakeReservationRepo) GetByReservationID(ctx context.Context, reservationID uuid.UUID) (*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[reservationID]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	clone := *r
	return &clone, nil
}

func (f *fakeReservationRepo) GetBySagaID(ctx context.Context, sagaID string) (*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.bySaga[sagaID]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	clone := *f.byID[id]
	return &clone, nil
}

func (f *fakeReservationRepo) SumReservedByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, r := range f.byID {
		if r.UserID == userID && r.Status == reservation.StatusReserved {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
}

func (f *fakeReservationRepo) Confirm(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, confirmedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[reservationID]
	if !ok || r.Status != reservation.StatusReserved {
		return false, nil
	}
	r.Status = reservation.StatusConfirmed
	at := confirmedAt
	r.ConfirmedAt = &at
	return true, nil
}

func (f *fakeReservationRepo) Release(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, releasedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[reservationID]
	if !ok || r.Status != reservation.StatusReserved {
		return false, nil
	}
	r.Status = reservation.StatusReleased
	at := releasedAt
	r.ReleasedAt = &at
	return true, nil
}

func (f *fakeReservationRepo) FindExpiredReserved(ctx context.Context, now time.Time) ([]*reservation.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*reservation.Reservation
	for _, r := range f.byID {
		if r.Status == reservation.StatusReserved && now.After(r.ExpiresAt) {
			clone := *r
			result = append(result, &clone)
		}
	}
	return result, nil
}

type fakeLedgerRepo struct {
	mu      sync.Mutex
	entries []*ledger.Entry
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{}
}

func (f *fakeLedgerRepo) SumAmountByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := decimal.Zero
	for _, e := range f.entries {
		if e.UserID == userID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (f *fakeLedgerRepo) Append(ctx context.Context, tx transaction.Tx, e *ledger.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *e
	clone.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, &clone)
	return nil
}

func (f *fakeLedgerRepo) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// credit は残高を直接積む（テストのセットアップ用）
func (f *fakeLedgerRepo) credit(userID uuid.UUID, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, &ledger.Entry{
		ID:          int64(len(f.entries) + 1),
		UserID:      userID,
		Amount:      amount,
		Description: "initial credit",
		CreatedAt:   time.Now(),
	})
}

type fakeIdempotencyRepo struct {
	mu   sync.Mutex
	keys map[string]time.Time
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{keys: make(map[string]time.Time)}
}

func (f *fakeIdempotencyRepo) ExistsByKey(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok, nil
}

func (f *fakeIdempotencyRepo) Insert(ctx context.Context, e *idempotency.ProcessedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[e.IdempotencyKey]; ok {
		return idempotency.ErrDuplicateKey
	}
	f.keys[e.IdempotencyKey] = e.ProcessedAt
	return nil
}

func (f *fakeIdempotencyRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for k, at := range f.keys {
		if at.Before(before) {
			delete(f.keys, k)
			deleted++
		}
	}
	return deleted, nil
}

var (
	_ reservation.Repository = (*fakeReservationRepo)(nil)
	_ ledger.Repository      = (*fakeLedgerRepo)(nil)
	_ idempotency.Repository = (*fakeIdempotencyRepo)(nil)
	_ transaction.Manager    = (fakeTxManager{})
)
