package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/idempotency"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/ledger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/reservation"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/transaction"
)

// === Mock implementations ===

// MockTxManager implements transaction.Manager
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(transaction.Tx), args.Error(1)
}

// MockTx implements transaction.Tx
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// MockReservationRepository implements reservation.Repository
type MockReservationRepository struct {
	mock.Mock
}

func (m *MockReservationRepository) Create(ctx context.Context, tx transaction.Tx, r *reservation.Reservation) error {
	args := m.Called(ctx, tx, r)
	return args.Error(0)
}

func (m *MockReservationRepository) GetByReservationID(ctx context.Context, reservationID uuid.UUID) (*reservation.Reservation, error) {
	args := m.Called(ctx, reservationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.Reservation), args.Error(1)
}

func (m *MockReservationRepository) GetBySagaID(ctx context.Context, sagaID string) (*reservation.Reservation, error) {
	args := m.Called(ctx, sagaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.Reservation), args.Error(1)
}

func (m *MockReservationRepository) SumReservedByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockReservationRepository) Confirm(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, confirmedAt time.Time) (bool, error) {
	args := m.Called(ctx, tx, reservationID, confirmedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockReservationRepository) Release(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, releasedAt time.Time) (bool, error) {
	args := m.Called(ctx, tx, reservationID, releasedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockReservationRepository) FindExpiredReserved(ctx context.Context, now time.Time) ([]*reservation.Reservation, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reservation.Reservation), args.Error(1)
}

// MockLedgerRepository implements ledger.Repository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) SumAmountByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedgerRepository) Append(ctx context.Context, tx transaction.Tx, e *ledger.Entry) error {
	args := m.Called(ctx, tx, e)
	return args.Error(0)
}

// MockIdempotencyRepository implements idempotency.Repository
type MockIdempotencyRepository struct {
	mock.Mock
}

func (m *MockIdempotencyRepository) ExistsByKey(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyRepository) Insert(ctx context.Context, e *idempotency.ProcessedEvent) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockIdempotencyCache implements idempotency.Cache
type MockIdempotencyCache struct {
	mock.Mock
}

func (m *MockIdempotencyCache) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyCache) Set(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

// MockPublisher implements saga.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	args := m.Called(ctx, topic, key, event)
	return args.Error(0)
}

// MockVoteRewarder implements VoteRewarder
type MockVoteRewarder struct {
	mock.Mock
}

func (m *MockVoteRewarder) AwardVoteExp(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// noopLockBalance はテスト用のBalanceLockFunc
func noopLockBalance(ctx context.Context, tx transaction.Tx, userID uuid.UUID) error {
	return nil
}
