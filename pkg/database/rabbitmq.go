package database

import (
	"fmt"
	"time"

	"chatroom_realtime_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitURL build amqp url
func RabbitURL(user, password, ip, port string) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", user, password, ip, port)
}

// ConnectRabbitMQWithRetry 嘗試連線到 RabbitMQ
func ConnectRabbitMQWithRetry(d Connection) (*amqp.Connection, error) {
	var err error

	for attempt := 1; attempt <= max(d.RetryCount, 1); attempt++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(d.ConnectStr)
		if err == nil {
			logger.Log.Info("RabbitMQ connected", zap.Int("attempt", attempt))
			return conn, nil
		}

		logger.Log.Warn("RabbitMQ connect failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		retryWait(d.RetryInterval)
	}

	return nil, fmt.Errorf("rabbitmq connect failed after %d attempts: %w", d.RetryCount, err)
}

// GetRabbitMQChannelWithRetry 使用已有的 RabbitMQ 連線嘗試取得 Channel
func GetRabbitMQChannelWithRetry(conn *amqp.Connection, maxRetries int, baseDelay time.Duration) (*amqp.Channel, error) {
	var err error

	for attempt := 1; attempt <= max(maxRetries, 1); attempt++ {
		var ch *amqp.Channel
		ch, err = conn.Channel()
		if err == nil {
			return ch, nil
		}

		logger.Log.Warn("RabbitMQ channel open failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		retryWait(baseDelay)
	}

	return nil, fmt.Errorf("rabbitmq channel open failed after %d attempts: %w", maxRetries, err)
}

// DeclareDurableQueue declare durable queue used by publisher and consumer
func DeclareDurableQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // queue name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // arguments
	)
	return err
}
