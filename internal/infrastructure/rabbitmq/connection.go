package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/phutruonnttn/yushan-microservices-gamification-service/internal/config"
)

// NewConnection はRabbitMQへの接続を作成する
func NewConnection(cfg *config.RabbitMQConfig) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("RabbitMQ接続に失敗しました: %w", err)
	}
	return conn, nil
}

// DeclareExchange はSAGA用のdurableなトピックエクスチェンジを宣言する
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("エクスチェンジ宣言に失敗: %w", err)
	}
	return nil
}
