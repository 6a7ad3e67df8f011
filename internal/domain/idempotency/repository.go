package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateKey は同じ冪等性キーが既に登録済みであることを示す
// 重複配信の再登録は異常ではないため、呼び出し側はログのみで握りつぶしてよい
var ErrDuplicateKey = errors.New("冪等性キーが既に登録されています")

// Repository は処理済みイベント証跡の永続ストアのインターフェース
type Repository interface {
	// ExistsByKey はキーが登録済みかを返す
	ExistsByKey(ctx context.Context, key string) (bool, error)

	// Insert は証跡を登録する
	// 一意制約違反の場合はErrDuplicateKeyを返す（同時重複配信は片方のみ成功）
	Insert(ctx context.Context, e *ProcessedEvent) error

	// DeleteOlderThan は指定時刻より古い証跡を削除し、削除件数を返す
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Cache は冪等性チェックを高速化する揮発キャッシュのインターフェース
// あくまでアクセラレータであり、正しさはRepositoryのみに依存する
type Cache interface {
	// Exists はキーがキャッシュに存在するかを返す
	Exists(ctx context.Context, key string) (bool, error)

	// Set はキーをTTL付きでキャッシュに登録する
	Set(ctx context.Context, key string, ttl time.Duration) error
}
