package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/ledger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/reservation"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/transaction"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/metrics"
)

// BalanceLockFunc はトランザクション内でユーザー残高の操作を直列化するロックを取得する
// check-then-act（残高確認→作成/更新）を同一ユーザーで競合させないために使う
type BalanceLockFunc func(ctx context.Context, tx transaction.Tx, userID uuid.UUID) error

// ReservationService はYuan仮押さえのhold/confirm/releaseライフサイクルを管理する
//
// 不変条件: available(user) = 台帳残高 − RESERVED中の仮押さえ合計 >= 0
// Holdはこの不変条件を破る場合に拒否される
type ReservationService struct {
	txManager       transaction.Manager
	reservationRepo reservation.Repository
	ledgerRepo      ledger.Repository
	lockBalance     BalanceLockFunc
	timeout         time.Duration
	metrics         *metrics.Metrics
	now             func() time.Time
}

// NewReservationService は新しいReservationServiceを作成する
func NewReservationService(
	txManager transaction.Manager,
	rr reservation.Repository,
	lr ledger.Repository,
	lockBalance BalanceLockFunc,
	timeout time.Duration,
	m *metrics.Metrics,
) *ReservationService {
	return &ReservationService{
		txManager:       txManager,
		reservationRepo: rr,
		ledgerRepo:      lr,
		lockBalance:     lockBalance,
		timeout:         timeout,
		metrics:         m,
		now:             time.Now,
	}
}

// Hold はYuanを仮押さえする
// 同じsagaIDでの再呼び出しは既存の予約を返す（重複Startイベント対応）
func (s *ReservationService) Hold(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, sagaID string) (*reservation.Reservation, error) {
	logger.Info("Yuanを仮押さえします",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()),
		zap.String("saga_id", sagaID),
	)

	res := reservation.NewReservation(userID, amount, sagaID, s.timeout)
	if err := res.Validate(); err != nil {
		s.countOperation("hold", "rejected")
		return nil, err
	}

	// sagaIDごとの冪等性: 既存の予約があればそれを返す
	existing, err := s.reservationRepo.GetBySagaID(ctx, sagaID)
	if err == nil {
		logger.Warn("SAGAの予約は既に存在します",
			zap.String("saga_id", sagaID),
			zap.String("reservation_id", existing.ReservationID.String()),
		)
		return existing, nil
	}
	if !errors.Is(err, reservation.ErrReservationNotFound) {
		return nil, fmt.Errorf("既存予約の確認に失敗: %w", err)
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	scope := transaction.NewScope(tx)
	defer scope.Rollback()

	// 同一ユーザーのcheck-then-actを直列化する
	if err := s.lockBalance(ctx, tx, userID); err != nil {
		return nil, err
	}

	available, balance, reserved, err := s.availableBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if available.LessThan(amount) {
		logger.Error("残高不足のため仮押さえできません",
			zap.String("user_id", userID.String()),
			zap.String("available", available.String()),
			zap.String("balance", balance.String()),
			zap.String("reserved", reserved.String()),
			zap.String("required", amount.String()),
		)
		s.countOperation("hold", "rejected")
		return nil, reservation.ErrInsufficientBalance
	}

	if err := s.reservationRepo.Create(ctx, tx, res); err != nil {
		if errors.Is(err, reservation.ErrSagaIDAlreadyExists) {
			// 並行する重複Startとの競合。勝者の予約を返す
			_ = scope.Rollback()
			return s.reservationRepo.GetBySagaID(ctx, sagaID)
		}
		return nil, err
	}

	scope.AfterCommit(func() {
		s.countOperation("hold", "success")
		logger.Info("Yuanを仮押さえしました",
			zap.String("saga_id", sagaID),
			zap.String("reservation_id", res.ReservationID.String()),
		)
	})
	if err := scope.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}
	return res, nil
}

// Confirm は仮押さえを実際のYuan引き落としに確定する
// 事前条件を順に検証し、台帳エントリの追記とステータス更新を単一トランザクションで行う
func (s *ReservationService) Confirm(ctx context.Context, reservationID, userID uuid.UUID) error {
	logger.Info("Yuan仮押さえを確定します",
		zap.String("reservation_id", reservationID.String()),
		zap.String("user_id", userID.String()),
	)

	res, err := s.reservationRepo.GetByReservationID(ctx, reservationID)
	if err != nil {
		s.countOperation("confirm", "rejected")
		return err
	}
	if !res.BelongsTo(userID) {
		s.countOperation("confirm", "rejected")
		return reservation.ErrOwnershipMismatch
	}
	if !res.IsReserved() {
		s.countOperation("confirm", "rejected")
		if res.Status == reservation.StatusConfirmed {
			return reservation.ErrReservationAlreadyConfirmed
		}
		return reservation.ErrReservationNotReserved
	}
	if res.IsExpired(s.now()) {
		// 期限切れは自動解放してから失敗させる
		if _, relErr := s.Release(ctx, reservationID, userID); relErr != nil {
			logger.Error("期限切れ予約の自動解放に失敗",
				zap.String("reservation_id", reservationID.String()), zap.Error(relErr))
		}
		s.countOperation("confirm", "rejected")
		return reservation.ErrReservationExpired
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	scope := transaction.NewScope(tx)
	defer scope.Rollback()

	if err := s.lockBalance(ctx, tx, userID); err != nil {
		return err
	}

	// Holdは他の消費経路を物理的にロックしないため、確定時に残高を再確認する
	balance, err := s.ledgerRepo.SumAmountByUserID(ctx, tx, userID)
	if err != nil {
		return err
	}
	if balance.LessThan(res.Amount) {
		_ = scope.Rollback()
		logger.Error("確定時の残高が不足しています",
			zap.String("user_id", userID.String()),
			zap.String("balance", balance.String()),
			zap.String("required", res.Amount.String()),
		)
		if _, relErr := s.Release(ctx, reservationID, userID); relErr != nil {
			logger.Error("残高不足予約の解放に失敗",
				zap.String("reservation_id", reservationID.String()), zap.Error(relErr))
		}
		s.countOperation("confirm", "rejected")
		return reservation.ErrInsufficientBalance
	}

	debit := ledger.NewDebit(userID, res.Amount, "Vote cost (SAGA confirmed)")
	if err := s.ledgerRepo.Append(ctx, tx, debit); err != nil {
		return err
	}

	ok, err := s.reservationRepo.Confirm(ctx, tx, reservationID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		// 期限切れ回収との競合に敗れた。台帳への追記ごとロールバックする
		s.countOperation("confirm", "rejected")
		return reservation.ErrReservationNotReserved
	}

	scope.AfterCommit(func() {
		s.countOperation("confirm", "success")
		logger.Info("Yuan仮押さえを確定し引き落としました",
			zap.String("reservation_id", reservationID.String()),
			zap.String("amount", res.Amount.String()),
		)
	})
	if err := scope.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// Release は仮押さえを解放する（補償・ロールバック用）
// 予約が存在しない場合はfalseを返すだけでエラーにしない（冪等な補償のため）
// 台帳エントリは書き込まない（仮押さえは台帳に触れていない）
func (s *ReservationService) Release(ctx context.Context, reservationID, userID uuid.UUID) (bool, error) {
	res, err := s.reservationRepo.GetByReservationID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, reservation.ErrReservationNotFound) {
			logger.Warn("解放対象の予約が見つかりません",
				zap.String("reservation_id", reservationID.String()))
			return false, nil
		}
		return false, err
	}
	if !res.BelongsTo(userID) {
		return false, reservation.ErrOwnershipMismatch
	}
	if res.Status == reservation.StatusReleased {
		logger.Warn("予約は既に解放済みです",
			zap.String("reservation_id", reservationID.String()))
		return true, nil
	}
	if res.Status == reservation.StatusConfirmed {
		// 確定後の解放は払い戻しであり、別の操作。ここでは不正な遷移として拒否する
		return false, reservation.ErrReservationAlreadyConfirmed
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	scope := transaction.NewScope(tx)
	defer scope.Rollback()

	ok, err := s.reservationRepo.Release(ctx, tx, reservationID, s.now())
	if err != nil {
		return false, err
	}
	if !ok {
		// 確定または解放との競合に敗れた場合。最新状態で判定し直す
		_ = scope.Rollback()
		latest, err := s.reservationRepo.GetByReservationID(ctx, reservationID)
		if err != nil {
			return false, err
		}
		if latest.Status == reservation.StatusReleased {
			return true, nil
		}
		return false, reservation.ErrReservationAlreadyConfirmed
	}

	scope.AfterCommit(func() {
		s.countOperation("release", "success")
		logger.Info("Yuan仮押さえを解放しました",
			zap.String("reservation_id", reservationID.String()),
			zap.String("user_id", userID.String()),
		)
	})
	if err := scope.Commit(); err != nil {
		return false, fmt.Errorf("コミットに失敗: %w", err)
	}
	return true, nil
}

// ReleaseBySagaID はSAGA IDから予約を解放する（縮退パスの補償用）
func (s *ReservationService) ReleaseBySagaID(ctx context.Context, sagaID string) (bool, error) {
	res, err := s.reservationRepo.GetBySagaID(ctx, sagaID)
	if err != nil {
		if errors.Is(err, reservation.ErrReservationNotFound) {
			logger.Warn("SAGAの予約が見つかりません", zap.String("saga_id", sagaID))
			return false, nil
		}
		return false, err
	}
	return s.Release(ctx, res.ReservationID, res.UserID)
}

// GetBySagaID はSAGA IDから予約を取得する
func (s *ReservationService) GetBySagaID(ctx context.Context, sagaID string) (*reservation.Reservation, error) {
	return s.reservationRepo.GetBySagaID(ctx, sagaID)
}

// SweepExpired は期限切れのRESERVED予約をすべて解放し、解放件数を返す
// 個別の失敗はログに残して継続する
func (s *ReservationService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.reservationRepo.FindExpiredReserved(ctx, s.now())
	if err != nil {
		return 0, err
	}

	releasedCount := 0
	for _, res := range expired {
		released, err := s.Release(ctx, res.ReservationID, res.UserID)
		if err != nil {
			logger.Error("期限切れ予約の解放に失敗",
				zap.String("reservation_id", res.ReservationID.String()), zap.Error(err))
			continue
		}
		if released {
			releasedCount++
			logger.Debug("期限切れ予約を解放", zap.String("reservation_id", res.ReservationID.String()))
		}
	}

	if s.metrics != nil && releasedCount > 0 {
		s.metrics.ExpiredReservationsReleasedTotal.Add(float64(releasedCount))
	}
	return releasedCount, nil
}

// availableBalance は利用可能残高（台帳残高 − RESERVED合計）を計算する
func (s *ReservationService) availableBalance(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (available, balance, reserved decimal.Decimal, err error) {
	balance, err = s.ledgerRepo.SumAmountByUserID(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	reserved, err = s.reservationRepo.SumReservedByUserID(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	return balance.Sub(reserved), balance, reserved, nil
}

func (s *ReservationService) countOperation(operation, status string) {
	if s.metrics != nil {
		s.metrics.ReservationsTotal.WithLabelValues(operation, status).Inc()
	}
}
