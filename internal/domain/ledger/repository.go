package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/transaction"
)

// Repository はYuan台帳リポジトリのインターフェース
// 台帳は追記専用であり、エントリの更新・削除は行わない
type Repository interface {
	// SumAmountByUserID はユーザーの台帳残高（全エントリの合計）を返す
	SumAmountByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error)

	// Append は台帳エントリを追記する（トランザクション必須）
	Append(ctx context.Context, tx transaction.Tx, e *Entry) error
}
