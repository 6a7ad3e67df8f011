package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/domain/saga"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/metrics"
)

// Publisher はSAGAイベントをトピックエクスチェンジへ発行する
// ルーティングキーは論理トピック名、メッセージキーはsagaId
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	metrics  *metrics.Metrics
}

// NewPublisher は新しいPublisherを作成し、エクスチェンジを宣言する
func NewPublisher(conn *amqp.Connection, exchange string, m *metrics.Metrics) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("チャンネル作成に失敗: %w", err)
	}
	if err := DeclareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, exchange: exchange, metrics: m}, nil
}

// Publish はイベントをJSONエンコードして発行する
func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) error {
	payload, err := saga.Encode(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    key,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("イベント発行に失敗 (topic=%s): %w", topic, err)
	}

	if p.metrics != nil {
		p.metrics.SagaEventsPublishedTotal.WithLabelValues(topic).Inc()
	}
	logger.Debug("SAGAイベントを発行", zap.String("topic", topic), zap.String("saga_id", key))
	return nil
}

// Close はチャンネルを閉じる
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

var _ saga.Publisher = (*Publisher)(nil)
