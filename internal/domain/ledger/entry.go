package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry はYuan台帳の1レコードを表す
// 符号付き金額の追記専用レコードで、ユーザー残高は全エントリの合計
type Entry struct {
	ID          int64
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

// NewDebit はYuanの引き落としエントリ（負の金額）を作成する
func NewDebit(userID uuid.UUID, amount decimal.Decimal, description string) *Entry {
	return &Entry{
		UserID:      userID,
		Amount:      amount.Neg(),
		Description: description,
		CreatedAt:   time.Now(),
	}
}
