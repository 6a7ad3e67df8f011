package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/pkg/logger"
)

// HandlerFunc は1件のイベントペイロードを処理する
// nilを返すとACK、エラーを返すとNACK+再キュー（at-least-once再配信）となる
// ビジネス上の失敗はハンドラー内で完結させ、nilを返すこと
type HandlerFunc func(ctx context.Context, payload []byte) error

// Consumer は論理トピックごとのdurableキューを購読するコンシューマー
// キュー名は <サービス名>.<トピック> で、同名キューの複数コンシューマーが
// ワーカーとして競合消費する（コンシューマーグループ相当）
type Consumer struct {
	conn        *amqp.Connection
	exchange    string
	serviceName string
	handlers    map[string]HandlerFunc

	mu       sync.Mutex
	channels []*amqp.Channel
	wg       sync.WaitGroup
}

// NewConsumer は新しいConsumerを作成する
func NewConsumer(conn *amqp.Connection, exchange, serviceName string) *Consumer {
	return &Consumer{
		conn:        conn,
		exchange:    exchange,
		serviceName: serviceName,
		handlers:    make(map[string]HandlerFunc),
	}
}

// Subscribe はトピックに対するハンドラーを登録する（Start前に呼ぶこと）
func (c *Consumer) Subscribe(topic string, handler HandlerFunc) {
	c.handlers[topic] = handler
}

// Start は登録済みの全トピックの購読を開始する
// 各トピックは専用チャンネル・専用ゴルーチンで消費される
func (c *Consumer) Start(ctx context.Context) error {
	for topic, handler := range c.handlers {
		if err := c.consume(ctx, topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) consume(ctx context.Context, topic string, handler HandlerFunc) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("チャンネル作成に失敗: %w", err)
	}
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()

	if err := DeclareExchange(ch, c.exchange); err != nil {
		return err
	}

	queueName := c.serviceName + "." + topic
	queue, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("キュー宣言に失敗 (queue=%s): %w", queueName, err)
	}
	if err := ch.QueueBind(queue.Name, topic, c.exchange, false, nil); err != nil {
		return fmt.Errorf("キューバインドに失敗 (queue=%s): %w", queueName, err)
	}

	// 1件ずつ処理する（未ACKメッセージの先読みを抑制）
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("QoS設定に失敗: %w", err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("購読開始に失敗 (queue=%s): %w", queueName, err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Info("トピックの購読を開始", zap.String("topic", topic), zap.String("queue", queueName))
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logger.Warn("配信チャンネルが閉じられました", zap.String("topic", topic))
					return
				}
				c.dispatch(ctx, topic, handler, d)
			}
		}
	}()

	return nil
}

func (c *Consumer) dispatch(ctx context.Context, topic string, handler HandlerFunc, d amqp.Delivery) {
	if err := handler(ctx, d.Body); err != nil {
		// インフラエラーのみここに到達する。NACK+再キューで再配信に委ねる
		logger.Error("イベント処理に失敗、再配信します",
			zap.String("topic", topic),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error("NACKに失敗", zap.String("topic", topic), zap.Error(nackErr))
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		logger.Error("ACKに失敗", zap.String("topic", topic), zap.Error(ackErr))
	}
}

// Stop は全チャンネルを閉じ、処理中のゴルーチンの終了を待つ
func (c *Consumer) Stop() {
	c.mu.Lock()
	for _, ch := range c.channels {
		_ = ch.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
