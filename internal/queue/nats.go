package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/pkg/logger"
)

// NATSConfig 描述 NATS 队列的连接参数。
type NATSConfig struct {
	URL        string
	Subject    string
	QueueGroup string
	Buffer     int
	Timeout    time.Duration
}

// NATSQueue 使用队列组订阅，多个 safeguardd 实例共享同一主题时每条消息只
// 由其中一个处理。NATS core 不持久化，进程离线期间发布的消息会丢失。
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
	buffer  int
}

// NewNATSQueue 连接 NATS 服务器，断线后无限重连。
func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "NATS URL 不能为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logger.Named("queue").With(slog.String("driver", "nats"))
	conn, err := nats.Connect(cfg.URL,
		nats.Name("safeguard-agent"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS 连接断开", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS 已重连", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 NATS 失败")
	}

	q := &NATSQueue{conn: conn, subject: cfg.Subject, group: cfg.QueueGroup, buffer: cfg.Buffer}
	if q.subject == "" {
		q.subject = "safeguard.updates"
	}
	if q.group == "" {
		q.group = "safeguard-workers"
	}
	if q.buffer <= 0 {
		q.buffer = 64
	}
	return q, nil
}

// Publish 发布一条消息。
func (q *NATSQueue) Publish(ctx context.Context, payload []byte) error {
	if q == nil || q.conn == nil || q.conn.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.conn.Publish(q.subject, payload); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "NATS 发布消息失败")
	}
	return nil
}

// Consume 订阅主题直到上下文取消。
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.conn == nil || q.conn.IsClosed() {
		return ErrClosed
	}
	msgs := make(chan *nats.Msg, q.buffer)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 NATS 主题失败",
			xerrors.WithMetadata("subject", q.subject))
	}
	defer func() { _ = sub.Unsubscribe() }()

	in := pump(ctx, msgs, func(msg *nats.Msg) (delivery, bool) {
		if msg == nil {
			return delivery{}, false
		}
		return delivery{payload: msg.Data}, true
	})
	dispatch(ctx, "nats", workerCount, in, handler)
	return ctx.Err()
}

// Close 排空订阅后关闭连接。
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}
