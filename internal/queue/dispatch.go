package queue

import (
	"context"
	"log/slog"
	"sync"

	"SafeGuard-Agent/pkg/logger"
)

// delivery 是驱动无关的一条待处理消息。done 在处理结束后调用，
// 无论处理成功与否；RabbitMQ 用它确认消息。
type delivery struct {
	payload []byte
	done    func()
}

// dispatch 启动 workers 个协程处理 in 中的消息，直到 in 关闭或上下文取消。
// workers 为 1 时消息严格按到达顺序逐条处理。
func dispatch(ctx context.Context, driver string, workers int, in <-chan delivery, handler Handler) {
	if workers <= 0 {
		workers = 1
	}
	log := logger.Named("queue").With(slog.String("driver", driver))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-in:
					if !ok {
						return
					}
					if err := handler(ctx, d.payload); err != nil {
						log.Warn("处理消息失败，消息不会重新投递", slog.Any("error", err))
					}
					if d.done != nil {
						d.done()
					}
				}
			}
		}()
	}
	wg.Wait()
}

// pump 把驱动自身的消息 channel 转换为 delivery，src 关闭时关闭输出。
func pump[T any](ctx context.Context, src <-chan T, convert func(T) (delivery, bool)) <-chan delivery {
	out := make(chan delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-src:
				if !ok {
					return
				}
				d, keep := convert(item)
				if !keep {
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
