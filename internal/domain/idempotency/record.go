package idempotency

import "time"

// ProcessedEvent は処理済みイベントの永続的な証跡
// キーごとに1回だけ作成され、更新されない
type ProcessedEvent struct {
	ID             int64
	IdempotencyKey string
	EventType      string
	ServiceName    string
	EventData      *string
	ProcessedAt    time.Time
}
