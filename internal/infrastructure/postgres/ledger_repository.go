package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/ledger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/transaction"
)

// LedgerRepository はYuan台帳（yuan_transactions）のsqlx実装
// 台帳は追記専用で、UPDATE/DELETEは発行しない
type LedgerRepository struct{ db *sqlx.DB }

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) SumAmountByUserID(ctx context.Context, tx transaction.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM yuan_transactions WHERE user_id = $1`
	if sqlxTx := UnwrapTx(tx); sqlxTx != nil {
		if err := sqlxTx.GetContext(ctx, &sum, query, userID); err != nil {
			return decimal.Zero, fmt.Errorf("台帳残高の取得に失敗: %w", err)
		}
		return sum, nil
	}
	if err := r.db.GetContext(ctx, &sum, query, userID); err != nil {
		return decimal.Zero, fmt.Errorf("台帳残高の取得に失敗: %w", err)
	}
	return sum, nil
}

func (r *LedgerRepository) Append(ctx context.Context, tx transaction.Tx, e *ledger.Entry) error {
	sqlxTx := UnwrapTx(tx)
	query := `INSERT INTO yuan_transactions (user_id, amount, description, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := sqlxTx.QueryRowContext(ctx, query, e.UserID, e.Amount, e.Description, e.CreatedAt).Scan(&e.ID); err != nil {
		return fmt.Errorf("台帳エントリの追記に失敗: %w", err)
	}
	return nil
}

var _ ledger.Repository = (*LedgerRepository)(nil)
