package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/transaction"
)

// Repository はYuan予約リポジトリのインターフェース
type Repository interface {
	// Create は新しい予約を作成する（トランザクション必須）
	Create(ctx context.Context, tx transaction.Tx, r *Reservation) error

	// GetByReservationID は予約IDから予約を取得する
	GetByReservationID(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)

	// GetBySagaID はSAGA IDから予約を取得する
	GetBySagaID(ctx context.Context, sagaID string) (*Reservation, error)

	// SumReservedByUserID はユーザーの仮押さえ中（RESERVED）金額の合計を返す
	SumReservedByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error)

	// Confirm はRESERVED状態の予約をCONFIRMEDへ遷移させる（トランザクション必須）
	// 条件付きUPDATEのため、遷移できなかった場合はfalseを返す
	Confirm(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, confirmedAt time.Time) (bool, error)

	// Release はRESERVED状態の予約をRELEASEDへ遷移させる（トランザクション必須）
	// 条件付きUPDATEのため、遷移できなかった場合はfalseを返す
	Release(ctx context.Context, tx transaction.Tx, reservationID uuid.UUID, releasedAt time.Time) (bool, error)

	// FindExpiredReserved は期限切れのRESERVED予約を取得する
	FindExpiredReserved(ctx context.Context, now time.Time) ([]*Reservation, error)
}
