package saga

import "context"

// Publisher はSAGAイベントの発行インターフェース
// keyにはパーティション親和性のためsagaIdを渡す
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
