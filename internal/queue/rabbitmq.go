package queue

import (
	"context"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "SafeGuard-Agent/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 通过默认 exchange 直接投递到命名队列。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
	closed  atomic.Bool
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	name := cfg.Queue
	if name == "" {
		name = "safeguard.updates"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	q := &RabbitMQQueue{conn: conn, queue: name, durable: cfg.Durable}
	if err := q.open(cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) open(cfg RabbitMQConfig) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	// 预取数量决定了 broker 一次推给本进程多少条未确认的消息。
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
	}
	if _, err := ch.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		_ = ch.Close()
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败",
			xerrors.WithMetadata("queue", q.queue))
	}
	q.ch = ch
	return nil
}

// Publish 投递一条 JSON 消息。持久化队列上的消息同样以持久模式写入。
func (q *RabbitMQQueue) Publish(ctx context.Context, payload []byte) error {
	if q == nil || q.ch == nil || q.closed.Load() {
		return ErrClosed
	}
	mode := amqp.Transient
	if q.durable {
		mode = amqp.Persistent
	}
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Timestamp:    time.Now(),
		AppId:        "safeguard-agent",
		Body:         payload,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布消息失败")
	}
	return nil
}

// Consume 以手动确认模式消费，消息处理完即确认，失败不重新入队。
// broker 断开连接时返回 QUEUE_FAILURE。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil || q.closed.Load() {
		return ErrClosed
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	lost := q.ch.NotifyClose(make(chan *amqp.Error, 1))

	in := pump(ctx, msgs, func(msg amqp.Delivery) (delivery, bool) {
		return delivery{payload: msg.Body, done: func() { _ = msg.Ack(false) }}, true
	})
	dispatch(ctx, "rabbitmq", workerCount, in, handler)

	if err := ctx.Err(); err != nil {
		return err
	}
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case amqpErr := <-lost:
		if amqpErr != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, amqpErr, "RabbitMQ 连接中断")
		}
	default:
	}
	return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 消费通道已关闭")
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil || !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
