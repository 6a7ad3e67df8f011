package reservation

import "errors"

// Reservation ドメインのエラー定義
var (
	ErrReservationNotFound         = errors.New("予約が見つかりません")
	ErrReservationNotReserved      = errors.New("予約は仮押さえ中ではありません")
	ErrReservationExpired          = errors.New("予約の有効期限が切れています")
	ErrReservationAlreadyConfirmed = errors.New("予約は既に確定されています")
	ErrOwnershipMismatch           = errors.New("予約は指定ユーザーのものではありません")
	ErrInsufficientBalance         = errors.New("Yuan残高が不足しています")
	ErrInvalidAmount               = errors.New("金額は0より大きい必要があります")
	ErrUserIDRequired              = errors.New("ユーザーIDは必須です")
	ErrSagaIDRequired              = errors.New("SAGA IDは必須です")
	ErrSagaIDAlreadyExists         = errors.New("同じSAGA IDの予約が既に存在します")
	ErrUnknownStatus               = errors.New("不正な予約ステータスです")
)
