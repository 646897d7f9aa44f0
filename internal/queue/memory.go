package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示队列已关闭。
var ErrClosed = errors.New("队列已关闭")

// MemoryQueue 使用 channel 实现进程内队列，是默认驱动。
type MemoryQueue struct {
	ch     chan delivery
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan delivery, size)}
}

// Publish 将消息投递到队列。队列已满时阻塞直到上下文取消。
func (q *MemoryQueue) Publish(ctx context.Context, payload []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- delivery{payload: payload}:
		return nil
	}
}

// Consume 消费队列直到上下文取消或队列关闭。关闭前已投递的消息会被处理完。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	dispatch(ctx, "memory", workerCount, q.ch, handler)
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// Close 关闭内存队列，重复调用无副作用。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
