package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/idempotency"
)

// IdempotencyCache は処理済みイベントキーの揮発キャッシュ
// 永続ストアの手前に置く高速パスであり、消失しても正しさには影響しない
type IdempotencyCache struct {
	client *redis.Client
}

// NewIdempotencyCache は新しいIdempotencyCacheを作成する
func NewIdempotencyCache(client *redis.Client) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

// Exists はキーがキャッシュに存在するかを返す
func (c *IdempotencyCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("冪等性キャッシュの確認に失敗: %w", err)
	}
	return n > 0, nil
}

// Set はキーをTTL付きで登録する
func (c *IdempotencyCache) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, "processed", ttl).Err(); err != nil {
		return fmt.Errorf("冪等性キャッシュの登録に失敗: %w", err)
	}
	return nil
}

var _ idempotency.Cache = (*IdempotencyCache)(nil)
