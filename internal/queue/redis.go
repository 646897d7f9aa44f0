package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "SafeGuard-Agent/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现队列：LPUSH 入队，单个协程 BRPOP 出队后
// 分发给 worker，因此单 worker 时保持 FIFO。
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisQueue 连接 Redis 并检查可用性。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败",
			xerrors.WithMetadata("address", cfg.Address))
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	key := cfg.Queue
	if key == "" {
		key = "safeguard:updates"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, wait: wait}
}

// Publish 将消息压入 list 头部。
func (q *RedisQueue) Publish(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布消息失败")
	}
	return nil
}

// Consume 持续 BRPOP 直到上下文取消、连接关闭或出现不可恢复的错误。
// 已弹出的消息处理失败后不会放回 list。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	in := make(chan delivery)
	pollErr := make(chan error, 1)
	go func() {
		defer close(in)
		pollErr <- q.poll(ctx, in)
	}()

	dispatch(ctx, "redis", workerCount, in, handler)
	if err := ctx.Err(); err != nil {
		return err
	}
	return <-pollErr
}

func (q *RedisQueue) poll(ctx context.Context, out chan<- delivery) error {
	for {
		values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return ErrClosed
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取消息失败")
		}
		// BRPOP 返回 [key, value]。
		if len(values) != 2 {
			continue
		}
		select {
		case out <- delivery{payload: []byte(values[1])}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
