package saga

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Vote SAGAのトピック（RabbitMQルーティングキー）
const (
	TopicStart        = "vote-saga.start"
	TopicYuanReserved = "vote-saga.yuan-reserved"
	TopicVoteCreated  = "vote-saga.vote-created"
	TopicCompensate   = "vote-saga.compensate-yuan"
	TopicFailed       = "vote-saga.failed"
)

// StartEvent はSAGA開始イベント（Yuan仮押さえ要求）
type StartEvent struct {
	SagaID    string    `json:"sagaId" validate:"required"`
	UserID    uuid.UUID `json:"userId" validate:"required"`
	NovelID   int       `json:"novelId" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// YuanReservedEvent はYuan仮押さえ完了イベント
type YuanReservedEvent struct {
	SagaID        string    `json:"sagaId" validate:"required"`
	UserID        uuid.UUID `json:"userId" validate:"required"`
	NovelID       int       `json:"novelId"`
	ReservationID uuid.UUID `json:"reservationId" validate:"required"`
	Timestamp     time.Time `json:"timestamp"`
}

// VoteCreatedEvent は投票作成完了イベント（Yuan確定要求）
type VoteCreatedEvent struct {
	SagaID        string    `json:"sagaId" validate:"required"`
	UserID        uuid.UUID `json:"userId" validate:"required"`
	NovelID       int       `json:"novelId"`
	VoteID        int       `json:"voteId"`
	ReservationID uuid.UUID `json:"reservationId" validate:"required"`
	Timestamp     time.Time `json:"timestamp"`
}

// CompensateEvent はYuan仮押さえ解放（補償）イベント
type CompensateEvent struct {
	SagaID        string    `json:"sagaId" validate:"required"`
	UserID        uuid.UUID `json:"userId" validate:"required"`
	ReservationID uuid.UUID `json:"reservationId" validate:"required"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// FailedEvent はSAGA失敗イベント
// 発起側（Engagement Service）が自身のローカル効果を取り消すための通知
type FailedEvent struct {
	SagaID        string     `json:"sagaId" validate:"required"`
	UserID        uuid.UUID  `json:"userId"`
	NovelID       int        `json:"novelId,omitempty"`
	VoteID        int        `json:"voteId,omitempty"`
	ReservationID *uuid.UUID `json:"reservationId,omitempty"`
	Reason        string     `json:"reason"`
	Timestamp     time.Time  `json:"timestamp"`
}

var validate = validator.New()

// Decode はJSONペイロードをイベント構造体にデコードして検証する
// 二重エンコードされたペイロード（外側が引用符で囲まれたJSON文字列）にも対応する
func Decode(payload []byte, event any) error {
	normalized := normalizePayload(payload)
	if err := json.Unmarshal(normalized, event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// Encode はイベントをJSONペイロードにエンコードする
func Encode(event any) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("イベントのエンコードに失敗: %w", err)
	}
	return payload, nil
}

// ExtractSagaID はデコードできないペイロードからsagaIdのみを取り出す
// 補償イベントを発行するための縮退パスで使用する
func ExtractSagaID(payload []byte) (string, bool) {
	var partial struct {
		SagaID string `json:"sagaId"`
	}
	if err := json.Unmarshal(normalizePayload(payload), &partial); err != nil {
		return "", false
	}
	if partial.SagaID == "" {
		return "", false
	}
	return partial.SagaID, true
}

// normalizePayload は二重エンコードされたJSON文字列の外側の引用符を除去する
func normalizePayload(payload []byte) []byte {
	s := strings.TrimSpace(string(payload))
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
		return []byte(s)
	}
	return payload
}
