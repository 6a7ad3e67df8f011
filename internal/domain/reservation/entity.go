package reservation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status はYuan予約の状態を表す
type Status string

const (
	StatusReserved  Status = "RESERVED"
	StatusConfirmed Status = "CONFIRMED"
	StatusReleased  Status = "RELEASED"
)

// EncodeStatus はStatusを永続化用の文字列に変換する
func EncodeStatus(s Status) (string, error) {
	switch s {
	case StatusReserved, StatusConfirmed, StatusReleased:
		return string(s), nil
	}
	return "", ErrUnknownStatus
}

// DecodeStatus は永続化された文字列をStatusに変換する
func DecodeStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusReserved, StatusConfirmed, StatusReleased:
		return Status(s), nil
	}
	return "", ErrUnknownStatus
}

// Reservation はSAGA実行中のYuan仮押さえを表すエンティティ
// 実際の残高引き落としはConfirm時にYuan台帳へ記録される
type Reservation struct {
	ReservationID uuid.UUID
	UserID        uuid.UUID
	Amount        decimal.Decimal
	SagaID        string
	Status        Status
	ExpiresAt     time.Time
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	ReleasedAt    *time.Time
}

// NewReservation は新しい予約を作成する（初期状態はRESERVED）
func NewReservation(userID uuid.UUID, amount decimal.Decimal, sagaID string, timeout time.Duration) *Reservation {
	now := time.Now()
	return &Reservation{
		ReservationID: uuid.New(),
		UserID:        userID,
		Amount:        amount,
		SagaID:        sagaID,
		Status:        StatusReserved,
		ExpiresAt:     now.Add(timeout),
		CreatedAt:     now,
	}
}

// IsExpired は予約が期限切れかを返す
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsReserved は予約が仮押さえ中かを返す
func (r *Reservation) IsReserved() bool {
	return r.Status == StatusReserved
}

// BelongsTo は予約が指定ユーザーのものかを返す
func (r *Reservation) BelongsTo(userID uuid.UUID) bool {
	return r.UserID == userID
}

// Validate は予約の検証を行う
func (r *Reservation) Validate() error {
	if r.UserID == uuid.Nil {
		return ErrUserIDRequired
	}
	if r.SagaID == "" {
		return ErrSagaIDRequired
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
