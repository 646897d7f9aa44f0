// Package queue decouples chat update intake from processing. Updates are
// published as opaque JSON payloads and consumed by a fixed number of
// workers; with the default single worker they are handled strictly one at
// a time.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SafeGuard-Agent/internal/config"
)

// Handler 处理一条来自队列的消息。返回的错误只用于日志，消息不会被重新投递。
type Handler func(ctx context.Context, payload []byte) error

// Producer 负责向队列投递消息。
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer 负责从队列中消费消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// New 根据配置选择队列驱动。
func New(cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryQueue(cfg.Size), nil
	case "redis":
		return NewRedisQueue(RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	case "nats":
		return NewNATSQueue(NATSConfig{
			URL:        cfg.NATS.URL,
			Subject:    cfg.NATS.Subject,
			QueueGroup: cfg.NATS.QueueGroup,
			Buffer:     cfg.Size,
		})
	default:
		return nil, fmt.Errorf("不支持的队列驱动: %s", cfg.Driver)
	}
}
