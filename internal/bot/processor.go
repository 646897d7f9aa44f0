package bot

import (
	"context"
	"encoding/json"
	"log/slog"

	xerrors "SafeGuard-Agent/internal/errors"
	"SafeGuard-Agent/internal/observability/metrics"
	"SafeGuard-Agent/internal/queue"
	"SafeGuard-Agent/pkg/logger"
)

// Sender 将回复发回聊天平台。
type Sender interface {
	Send(ctx context.Context, reply Reply) error
}

// Publish 将消息编码后投递到队列。
func Publish(ctx context.Context, producer queue.Producer, u Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "序列化消息失败")
	}
	if err := producer.Publish(ctx, payload); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递消息失败")
	}
	metrics.ObserveQueueEvent("published")
	return nil
}

// Processor 从队列消费消息，交给调度器处理并发送回复。
type Processor struct {
	consumer    queue.Consumer
	dispatcher  *Dispatcher
	sender      Sender
	workerCount int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithWorkerCount 设置消费协程数量。大于 1 时并发的 /send 可能读到相同的 Safe nonce。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(consumer queue.Consumer, dispatcher *Dispatcher, sender Sender, opts ...ProcessorOption) *Processor {
	p := &Processor{
		consumer:    consumer,
		dispatcher:  dispatcher,
		sender:      sender,
		workerCount: 1,
		logger:      logger.Named("processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消息处理循环，直到上下文取消或队列关闭。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.dispatcher == nil || p.sender == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "消息处理器未初始化")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, payload []byte) error {
	var u Update
	if err := json.Unmarshal(payload, &u); err != nil {
		metrics.ObserveQueueEvent("malformed")
		p.logger.Warn("丢弃无法解析的消息", slog.Any("error", err))
		return nil
	}
	metrics.ObserveQueueEvent("handled")

	reply := p.dispatcher.Handle(ctx, u)
	if reply.Text == "" {
		return nil
	}
	if err := p.sender.Send(ctx, reply); err != nil {
		p.logger.Error("发送回复失败", slog.Int64("chat_id", reply.ChatID), slog.Any("error", err))
		return err
	}
	return nil
}
