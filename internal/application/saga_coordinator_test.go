package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/reservation"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/saga"
)

// recordingPublisher は発行されたイベントを記録するテスト用Publisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	topic string
	key   string
	event any
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, key: key, event: event})
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []publishedEvent
	for _, e := range p.events {
		if e.topic == topic {
			result = append(result, e)
		}
	}
	return result
}

type recordingRewarder struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingRewarder) AwardVoteExp(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *recordingRewarder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type coordinatorFixture struct {
	coordinator  *SagaCoordinator
	reservations *ReservationService
	ledger       *fakeLedgerRepo
	resRepo      *fakeReservationRepo
	publisher    *recordingPublisher
	rewarder     *recordingRewarder
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	resRepo := newFakeReservationRepo()
	ledgerRepo := newFakeLedgerRepo()
	svc := NewReservationService(fakeTxManager{}, resRepo, ledgerRepo, noopLockBalance, 5*time.Minute, nil)
	guard := NewIdempotencyService(nil, newFakeIdempotencyRepo(), cacheTTL, nil)
	publisher := &recordingPublisher{}
	rewarder := &recordingRewarder{}
	coordinator := NewSagaCoordinator(svc, guard, publisher, rewarder, decimal.RequireFromString("1.0"), true, nil)
	return &coordinatorFixture{
		coordinator:  coordinator,
		reservations: svc,
		ledger:       ledgerRepo,
		resRepo:      resRepo,
		publisher:    publisher,
		rewarder:     rewarder,
	}
}

func encodeEvent(t *testing.T, event any) []byte {
	t.Helper()
	payload, err := saga.Encode(event)
	require.NoError(t, err)
	return payload
}

func TestSagaCoordinator_HandleStart(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	startPayload := func(t *testing.T, sagaID string) []byte {
		return encodeEvent(t, &saga.StartEvent{
			SagaID:    sagaID,
			UserID:    userID,
			NovelID:   42,
			Timestamp: time.Now(),
		})
	}

	t.Run("仮押さえに成功しYuanReservedを発行する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.credit(userID, decimal.RequireFromString("1.0"))

		require.NoError(t, f.coordinator.HandleStart(ctx, startPayload(t, "saga-1")))

		res, err := f.resRepo.GetBySagaID(ctx, "saga-1")
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusReserved, res.Status)

		published := f.publisher.byTopic(saga.TopicYuanReserved)
		require.Len(t, published, 1)
		reserved := published[0].event.(*saga.YuanReservedEvent)
		assert.Equal(t, "saga-1", reserved.SagaID)
		assert.Equal(t, res.ReservationID, reserved.ReservationID)
		assert.Equal(t, 42, reserved.NovelID)
	})

	t.Run("重複配信は二重仮押さえしない", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.credit(userID, decimal.RequireFromString("1.0"))
		payload := startPayload(t, "saga-1")

		require.NoError(t, f.coordinator.HandleStart(ctx, payload))
		require.NoError(t, f.coordinator.HandleStart(ctx, payload))

		// 予約は1件、YuanReservedも1回のみ
		assert.Len(t, f.resRepo.byID, 1)
		assert.Len(t, f.publisher.byTopic(saga.TopicYuanReserved), 1)
	})

	t.Run("残高不足はFailedを発行してnilを返す", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		// 残高ゼロのまま

		require.NoError(t, f.coordinator.HandleStart(ctx, startPayload(t, "saga-poor")))

		_, err := f.resRepo.GetBySagaID(ctx, "saga-poor")
		assert.ErrorIs(t, err, reservation.ErrReservationNotFound)

		failed := f.publisher.byTopic(saga.TopicFailed)
		require.Len(t, failed, 1)
		event := failed[0].event.(*saga.FailedEvent)
		assert.Equal(t, "saga-poor", event.SagaID)
		assert.Contains(t, event.Reason, "Failed to reserve Yuan")
		assert.Empty(t, f.publisher.byTopic(saga.TopicYuanReserved))
	})

	t.Run("既存のRESERVED予約があればYuanReservedを再発行する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.credit(userID, decimal.RequireFromString("1.0"))

		// 仮押さえ成功後にMarkProcessedが失われたケースを再現する
		res, err := f.reservations.Hold(ctx, userID, decimal.RequireFromString("1.0"), "saga-redeliver")
		require.NoError(t, err)

		require.NoError(t, f.coordinator.HandleStart(ctx, startPayload(t, "saga-redeliver")))

		published := f.publisher.byTopic(saga.TopicYuanReserved)
		require.Len(t, published, 1)
		assert.Equal(t, res.ReservationID, published[0].event.(*saga.YuanReservedEvent).ReservationID)
	})

	t.Run("不正ペイロードはリトライしない", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		require.NoError(t, f.coordinator.HandleStart(ctx, []byte(`{"novelId": 42}`)))
		assert.Empty(t, f.publisher.events)
	})

	t.Run("無効化されている場合はスキップする", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		disabled := NewSagaCoordinator(f.reservations, nil, f.publisher, f.rewarder, decimal.RequireFromString("1.0"), false, nil)

		require.NoError(t, disabled.HandleStart(ctx, startPayload(t, "saga-off")))
		assert.Empty(t, f.publisher.events)
	})
}

func TestSagaCoordinator_HandleVoteCreated(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	setupReserved := func(t *testing.T, f *coordinatorFixture, sagaID string) *reservation.Reservation {
		t.Helper()
		f.ledger.credit(userID, decimal.RequireFromString("1.0"))
		res, err := f.reservations.Hold(ctx, userID, decimal.RequireFromString("1.0"), sagaID)
		require.NoError(t, err)
		return res
	}

	voteCreatedPayload := func(t *testing.T, sagaID string, reservationID, owner uuid.UUID) []byte {
		return encodeEvent(t, &saga.VoteCreatedEvent{
			SagaID:        sagaID,
			UserID:        owner,
			NovelID:       42,
			VoteID:        7,
			ReservationID: reservationID,
			Timestamp:     time.Now(),
		})
	}

	t.Run("確定に成功し報酬を付与する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		res := setupReserved(t, f, "saga-1")

		require.NoError(t, f.coordinator.HandleVoteCreated(ctx, voteCreatedPayload(t, "saga-1", res.ReservationID, userID)))

		confirmed, err := f.resRepo.GetByReservationID(ctx, res.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusConfirmed, confirmed.Status)
		assert.Equal(t, 1, f.rewarder.callCount())
		// 台帳には初期クレジット＋引き落としの2件
		assert.Equal(t, 2, f.ledger.entryCount())
	})

	t.Run("重複配信は二重確定しない", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		res := setupReserved(t, f, "saga-1")
		payload := voteCreatedPayload(t, "saga-1", res.ReservationID, userID)

		require.NoError(t, f.coordinator.HandleVoteCreated(ctx, payload))
		require.NoError(t, f.coordinator.HandleVoteCreated(ctx, payload))

		assert.Equal(t, 1, f.rewarder.callCount())
		assert.Equal(t, 2, f.ledger.entryCount())
	})

	t.Run("所有者不一致はCompensateとFailedを発行する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		res := setupReserved(t, f, "saga-1")
		intruder := uuid.New()

		require.NoError(t, f.coordinator.HandleVoteCreated(ctx, voteCreatedPayload(t, "saga-1", res.ReservationID, intruder)))

		compensate := f.publisher.byTopic(saga.TopicCompensate)
		require.Len(t, compensate, 1)
		assert.Equal(t, res.ReservationID, compensate[0].event.(*saga.CompensateEvent).ReservationID)

		failed := f.publisher.byTopic(saga.TopicFailed)
		require.Len(t, failed, 1)
		event := failed[0].event.(*saga.FailedEvent)
		assert.Equal(t, 7, event.VoteID)
		assert.Contains(t, event.Reason, "Failed to confirm Yuan deduction")

		// 仮押さえはRESERVEDのまま（解放はCompensateハンドラーが行う）
		current, err := f.resRepo.GetByReservationID(ctx, res.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusReserved, current.Status)
	})

	t.Run("期限切れ予約の確定はCompensateとFailedを発行する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		res := setupReserved(t, f, "saga-1")
		f.reservations.now = func() time.Time { return res.ExpiresAt.Add(time.Second) }

		require.NoError(t, f.coordinator.HandleVoteCreated(ctx, voteCreatedPayload(t, "saga-1", res.ReservationID, userID)))

		assert.Len(t, f.publisher.byTopic(saga.TopicCompensate), 1)
		assert.Len(t, f.publisher.byTopic(saga.TopicFailed), 1)
		assert.Equal(t, 0, f.rewarder.callCount())

		// Confirmが期限切れを検出した時点で即時解放している
		current, err := f.resRepo.GetByReservationID(ctx, res.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusReleased, current.Status)
	})

	t.Run("解析不能なペイロードはsagaIdから補償する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		res := setupReserved(t, f, "saga-degraded")

		// 必須フィールド欠落だがsagaIdだけは読める
		require.NoError(t, f.coordinator.HandleVoteCreated(ctx, []byte(`{"sagaId":"saga-degraded"}`)))

		compensate := f.publisher.byTopic(saga.TopicCompensate)
		require.Len(t, compensate, 1)
		event := compensate[0].event.(*saga.CompensateEvent)
		assert.Equal(t, res.ReservationID, event.ReservationID)
		assert.Equal(t, userID, event.UserID)
		assert.Len(t, f.publisher.byTopic(saga.TopicFailed), 1)
	})
}

func TestSagaCoordinator_HandleCompensate(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	compensatePayload := func(t *testing.T, sagaID string, reservationID uuid.UUID) []byte {
		return encodeEvent(t, &saga.CompensateEvent{
			SagaID:        sagaID,
			UserID:        userID,
			ReservationID: reservationID,
			Reason:        "vote creation failed",
			Timestamp:     time.Now(),
		})
	}

	t.Run("仮押さえを解放する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.credit(userID, decimal.RequireFromString("1.0"))
		res, err := f.reservations.Hold(ctx, userID, decimal.RequireFromString("1.0"), "saga-1")
		require.NoError(t, err)

		require.NoError(t, f.coordinator.HandleCompensate(ctx, compensatePayload(t, "saga-1", res.ReservationID)))

		released, err := f.resRepo.GetByReservationID(ctx, res.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusReleased, released.Status)
	})

	t.Run("存在しない予約でもエラーを返さない（終端）", func(t *testing.T) {
		f := newCoordinatorFixture(t)

		err := f.coordinator.HandleCompensate(ctx, compensatePayload(t, "saga-ghost", uuid.New()))
		assert.NoError(t, err)
	})

	t.Run("重複配信をスキップする", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.credit(userID, decimal.RequireFromString("1.0"))
		res, err := f.reservations.Hold(ctx, userID, decimal.RequireFromString("1.0"), "saga-1")
		require.NoError(t, err)
		payload := compensatePayload(t, "saga-1", res.ReservationID)

		require.NoError(t, f.coordinator.HandleCompensate(ctx, payload))
		require.NoError(t, f.coordinator.HandleCompensate(ctx, payload))

		released, err := f.resRepo.GetByReservationID(ctx, res.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusReleased, released.Status)
	})

	t.Run("解析不能なペイロードもsagaIdがあれば解放する", func(t *testing.T) {
		f := newCoordinatorFixture(t)
		f.ledger.credit(userID, decimal.RequireFromString("1.0"))
		res, err := f.reservations.Hold(ctx, userID, decimal.RequireFromString("1.0"), "saga-broken")
		require.NoError(t, err)

		require.NoError(t, f.coordinator.HandleCompensate(ctx, []byte(`{"sagaId":"saga-broken"}`)))

		released, err := f.resRepo.GetByReservationID(ctx, res.ReservationID)
		require.NoError(t, err)
		assert.Equal(t, reservation.StatusReleased, released.Status)
	})
}

func TestIsBusinessError(t *testing.T) {
	assert.True(t, isBusinessError(reservation.ErrInsufficientBalance))
	assert.True(t, isBusinessError(reservation.ErrReservationExpired))
	assert.True(t, isBusinessError(saga.ErrMalformedEvent))
	assert.False(t, isBusinessError(assert.AnError))
}
