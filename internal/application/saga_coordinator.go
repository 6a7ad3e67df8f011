package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/reservation"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/saga"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/metrics"
)

// 冪等性キーのプレフィックス（sagaIdと連結して使う）
const (
	idempotencyPrefixStart      = "idempotency:vote-saga-start:"
	idempotencyPrefixConfirm    = "idempotency:vote-saga-confirm:"
	idempotencyPrefixCompensate = "idempotency:vote-saga-compensate:"
)

// イベント種別名（処理済みイベント証跡に記録される）
const (
	eventTypeStart      = "VoteSagaStart"
	eventTypeConfirm    = "VoteSagaConfirm"
	eventTypeCompensate = "VoteSagaCompensate"
)

// VoteRewarder は投票に対する報酬付与の外部コラボレーター
// 報酬ルール（EXP計算等）はこのサービスの外で所有される
type VoteRewarder interface {
	AwardVoteExp(ctx context.Context, userID uuid.UUID) error
}

// SagaCoordinator はVote SAGAのコレオグラフィ・ステートマシン
// 受信イベントごとにReservationServiceを駆動し、次ステップまたは補償イベントを発行する
// 各ハンドラーは(sagaId, ステップ名)をキーにIdempotencyServiceで冪等化される
type SagaCoordinator struct {
	reservations *ReservationService
	guard        *IdempotencyService
	publisher    saga.Publisher
	rewarder     VoteRewarder
	voteCost     decimal.Decimal
	enabled      bool
	metrics      *metrics.Metrics
}

// NewSagaCoordinator は新しいSagaCoordinatorを作成する
func NewSagaCoordinator(
	reservations *ReservationService,
	guard *IdempotencyService,
	publisher saga.Publisher,
	rewarder VoteRewarder,
	voteCost decimal.Decimal,
	enabled bool,
	m *metrics.Metrics,
) *SagaCoordinator {
	return &SagaCoordinator{
		reservations: reservations,
		guard:        guard,
		publisher:    publisher,
		rewarder:     rewarder,
		voteCost:     voteCost,
		enabled:      enabled,
		metrics:      m,
	}
}

// HandleStart はSAGA開始イベントを処理する（ステップ1: Yuan仮押さえ）
//
// エラーを返すのはインフラ障害のみ（再配信でリトライされる）
// ビジネス上の失敗はFailedイベントを発行してnilを返す（補償は不要、何も確保していない）
func (c *SagaCoordinator) HandleStart(ctx context.Context, payload []byte) error {
	if !c.enabled {
		logger.Warn("SAGA機能が無効のためStartイベントをスキップします")
		return nil
	}

	var event saga.StartEvent
	if err := saga.Decode(payload, &event); err != nil {
		// 不正ペイロードはリトライしても直らない。宛先不明のためFailedも発行できない
		logger.Error("Startイベントの解析に失敗", zap.ByteString("payload", payload), zap.Error(err))
		c.countConsumed(saga.TopicStart, "failed")
		return nil
	}
	logger.Info("Startイベントを受信", zap.String("saga_id", event.SagaID))

	key := idempotencyPrefixStart + event.SagaID
	processed, err := c.guard.IsProcessed(ctx, key, eventTypeStart)
	if err != nil {
		return err
	}
	if processed {
		logger.Info("Startイベントは処理済み、スキップします", zap.String("saga_id", event.SagaID))
		c.countConsumed(saga.TopicStart, "duplicate")
		return nil
	}

	// 仮押さえが既に存在する場合は再利用する（再配信でも二重仮押さえしない）
	existing, err := c.reservations.GetBySagaID(ctx, event.SagaID)
	if err == nil && existing.IsReserved() {
		logger.Warn("SAGAの予約が既に存在するため再利用します", zap.String("saga_id", event.SagaID))
		if err := c.publishYuanReserved(ctx, &event, existing.ReservationID); err != nil {
			return err
		}
		if err := c.guard.MarkProcessed(ctx, key, eventTypeStart, nil); err != nil {
			return err
		}
		c.countConsumed(saga.TopicStart, "processed")
		return nil
	}
	if err != nil && !errors.Is(err, reservation.ErrReservationNotFound) {
		return err
	}

	res, err := c.reservations.Hold(ctx, event.UserID, c.voteCost, event.SagaID)
	if err != nil {
		if isBusinessError(err) {
			// 何も確保していないため補償イベントは不要。Failedのみ発行する
			c.publishFailed(ctx, &saga.FailedEvent{
				SagaID:    event.SagaID,
				UserID:    event.UserID,
				NovelID:   event.NovelID,
				Reason:    "Failed to reserve Yuan: " + err.Error(),
				Timestamp: time.Now(),
			})
			c.countConsumed(saga.TopicStart, "failed")
			return nil
		}
		c.countConsumed(saga.TopicStart, "retried")
		return err
	}

	if err := c.publishYuanReserved(ctx, &event, res.ReservationID); err != nil {
		return err
	}
	if err := c.guard.MarkProcessed(ctx, key, eventTypeStart, nil); err != nil {
		return err
	}
	c.countConsumed(saga.TopicStart, "processed")
	logger.Info("Startイベントの処理が完了",
		zap.String("saga_id", event.SagaID),
		zap.String("reservation_id", res.ReservationID.String()),
	)
	return nil
}

// HandleVoteCreated は投票作成完了イベントを処理する（ステップ3: 確定）
//
// 確定が失敗した場合はCompensate（Yuan解放）とFailed（発起側の投票取り消し）を
// 両方発行する。確定成功後は報酬付与を起動し処理済みを記録する
func (c *SagaCoordinator) HandleVoteCreated(ctx context.Context, payload []byte) error {
	if !c.enabled {
		logger.Warn("SAGA機能が無効のためVoteCreatedイベントをスキップします")
		return nil
	}

	var event saga.VoteCreatedEvent
	if err := saga.Decode(payload, &event); err != nil {
		// 縮退パス: sagaIdだけでも取り出し、予約を引いて補償を発行する
		logger.Error("VoteCreatedイベントの解析に失敗", zap.ByteString("payload", payload), zap.Error(err))
		c.compensateFromPayload(ctx, payload, "Failed to confirm Yuan deduction: "+err.Error())
		c.countConsumed(saga.TopicVoteCreated, "failed")
		return nil
	}
	logger.Info("VoteCreatedイベントを受信", zap.String("saga_id", event.SagaID))

	key := idempotencyPrefixConfirm + event.SagaID
	processed, err := c.guard.IsProcessed(ctx, key, eventTypeConfirm)
	if err != nil {
		return err
	}
	if processed {
		logger.Info("VoteCreatedイベントは処理済み、スキップします", zap.String("saga_id", event.SagaID))
		c.countConsumed(saga.TopicVoteCreated, "duplicate")
		return nil
	}

	if err := c.reservations.Confirm(ctx, event.ReservationID, event.UserID); err != nil {
		if isBusinessError(err) {
			reason := "Failed to confirm Yuan deduction: " + err.Error()
			c.publishCompensate(ctx, &saga.CompensateEvent{
				SagaID:        event.SagaID,
				UserID:        event.UserID,
				ReservationID: event.ReservationID,
				Reason:        reason,
				Timestamp:     time.Now(),
			})
			// 発起側が自身のローカル効果（投票）を取り消せるようFailedも発行する
			c.publishFailed(ctx, &saga.FailedEvent{
				SagaID:        event.SagaID,
				UserID:        event.UserID,
				NovelID:       event.NovelID,
				VoteID:        event.VoteID,
				ReservationID: &event.ReservationID,
				Reason:        reason,
				Timestamp:     time.Now(),
			})
			c.countConsumed(saga.TopicVoteCreated, "failed")
			return nil
		}
		c.countConsumed(saga.TopicVoteCreated, "retried")
		return err
	}

	// 報酬付与（外部コラボレーター）。Yuanは確定済みのため失敗しても取り消さない
	if err := c.rewarder.AwardVoteExp(ctx, event.UserID); err != nil {
		logger.Error("投票報酬の付与に失敗",
			zap.String("saga_id", event.SagaID),
			zap.String("user_id", event.UserID.String()),
			zap.Error(err),
		)
	}

	if err := c.guard.MarkProcessed(ctx, key, eventTypeConfirm, nil); err != nil {
		return err
	}
	c.countConsumed(saga.TopicVoteCreated, "processed")
	logger.Info("Yuan引き落としを確定し報酬を付与",
		zap.String("saga_id", event.SagaID),
		zap.String("user_id", event.UserID.String()),
	)
	return nil
}

// HandleCompensate はYuan解放（補償）イベントを処理する
//
// 補償は終端でなければならない。ここでのエラーは再送ループを生むため
// すべてログに残したうえで握りつぶす（Releaseはもともと冪等）
func (c *SagaCoordinator) HandleCompensate(ctx context.Context, payload []byte) error {
	var event saga.CompensateEvent
	if err := saga.Decode(payload, &event); err != nil {
		logger.Error("Compensateイベントの解析に失敗", zap.ByteString("payload", payload), zap.Error(err))
		if sagaID, ok := saga.ExtractSagaID(payload); ok {
			if _, relErr := c.reservations.ReleaseBySagaID(ctx, sagaID); relErr != nil {
				logger.Error("SAGA IDによる解放に失敗", zap.String("saga_id", sagaID), zap.Error(relErr))
			}
		}
		c.countConsumed(saga.TopicCompensate, "failed")
		return nil
	}
	logger.Info("Compensateイベントを受信", zap.String("saga_id", event.SagaID))

	key := idempotencyPrefixCompensate + event.SagaID
	processed, err := c.guard.IsProcessed(ctx, key, eventTypeCompensate)
	if err != nil {
		logger.Error("補償の冪等性チェックに失敗、解放を試みます",
			zap.String("saga_id", event.SagaID), zap.Error(err))
	} else if processed {
		logger.Info("Compensateイベントは処理済み、スキップします", zap.String("saga_id", event.SagaID))
		c.countConsumed(saga.TopicCompensate, "duplicate")
		return nil
	}

	released, err := c.reservations.Release(ctx, event.ReservationID, event.UserID)
	if err != nil {
		logger.Error("Yuan仮押さえの解放に失敗",
			zap.String("saga_id", event.SagaID),
			zap.String("reservation_id", event.ReservationID.String()),
			zap.Error(err),
		)
		c.countConsumed(saga.TopicCompensate, "failed")
		return nil
	}
	if released {
		logger.Info("Yuan仮押さえを解放しました",
			zap.String("saga_id", event.SagaID),
			zap.String("reservation_id", event.ReservationID.String()),
		)
	} else {
		logger.Warn("解放対象がありません（処理済みの可能性）",
			zap.String("saga_id", event.SagaID),
			zap.String("reservation_id", event.ReservationID.String()),
		)
	}

	if err := c.guard.MarkProcessed(ctx, key, eventTypeCompensate, nil); err != nil {
		logger.Error("補償の処理済み記録に失敗", zap.String("saga_id", event.SagaID), zap.Error(err))
	}
	c.countConsumed(saga.TopicCompensate, "processed")
	return nil
}

// compensateFromPayload は解析不能なペイロードからsagaIdを取り出し、
// 予約情報をデータベースから引いて補償イベントを発行する（ベストエフォート）
func (c *SagaCoordinator) compensateFromPayload(ctx context.Context, payload []byte, reason string) {
	sagaID, ok := saga.ExtractSagaID(payload)
	if !ok {
		logger.Error("ペイロードからsagaIdを取り出せません、補償を断念します")
		return
	}
	res, err := c.reservations.GetBySagaID(ctx, sagaID)
	if err != nil {
		logger.Error("SAGAの予約が見つからず補償できません", zap.String("saga_id", sagaID), zap.Error(err))
		return
	}
	c.publishCompensate(ctx, &saga.CompensateEvent{
		SagaID:        sagaID,
		UserID:        res.UserID,
		ReservationID: res.ReservationID,
		Reason:        reason,
		Timestamp:     time.Now(),
	})
	c.publishFailed(ctx, &saga.FailedEvent{
		SagaID:        sagaID,
		UserID:        res.UserID,
		ReservationID: &res.ReservationID,
		Reason:        reason,
		Timestamp:     time.Now(),
	})
}

func (c *SagaCoordinator) publishYuanReserved(ctx context.Context, start *saga.StartEvent, reservationID uuid.UUID) error {
	event := &saga.YuanReservedEvent{
		SagaID:        start.SagaID,
		UserID:        start.UserID,
		NovelID:       start.NovelID,
		ReservationID: reservationID,
		Timestamp:     time.Now(),
	}
	if err := c.publisher.Publish(ctx, saga.TopicYuanReserved, start.SagaID, event); err != nil {
		return err
	}
	logger.Info("YuanReservedイベントを発行",
		zap.String("saga_id", start.SagaID),
		zap.String("reservation_id", reservationID.String()),
	)
	return nil
}

// publishFailed はFailedイベントを発行する（発行失敗はログのみ）
func (c *SagaCoordinator) publishFailed(ctx context.Context, event *saga.FailedEvent) {
	if err := c.publisher.Publish(ctx, saga.TopicFailed, event.SagaID, event); err != nil {
		logger.Error("Failedイベントの発行に失敗", zap.String("saga_id", event.SagaID), zap.Error(err))
		return
	}
	logger.Info("Failedイベントを発行",
		zap.String("saga_id", event.SagaID),
		zap.String("reason", event.Reason),
	)
}

// publishCompensate はCompensateイベントを発行する（発行失敗はログのみ）
func (c *SagaCoordinator) publishCompensate(ctx context.Context, event *saga.CompensateEvent) {
	if err := c.publisher.Publish(ctx, saga.TopicCompensate, event.SagaID, event); err != nil {
		logger.Error("Compensateイベントの発行に失敗", zap.String("saga_id", event.SagaID), zap.Error(err))
		return
	}
	logger.Info("Compensateイベントを発行",
		zap.String("saga_id", event.SagaID),
		zap.String("reason", event.Reason),
	)
}

func (c *SagaCoordinator) countConsumed(topic, result string) {
	if c.metrics != nil {
		c.metrics.SagaEventsConsumedTotal.WithLabelValues(topic, result).Inc()
	}
}

// isBusinessError はリトライしても解決しないビジネスエラーかを判定する
// これら以外（ストア・バス障害）はトランスポートへ伝播させ再配信に委ねる
func isBusinessError(err error) bool {
	for _, target := range []error{
		reservation.ErrInvalidAmount,
		reservation.ErrInsufficientBalance,
		reservation.ErrReservationNotFound,
		reservation.ErrOwnershipMismatch,
		reservation.ErrReservationExpired,
		reservation.ErrReservationNotReserved,
		reservation.ErrReservationAlreadyConfirmed,
		reservation.ErrUserIDRequired,
		reservation.ErrSagaIDRequired,
		reservation.ErrSagaIDAlreadyExists,
		saga.ErrMalformedEvent,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
