package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ConsensusMCP-Chain/pkg/logger"
)

var (
	// ErrQueueClosed 表示队列已关闭，事件不会再被接受。
	ErrQueueClosed = errors.New("任务队列已关闭")
	// ErrQueueFull 表示内存队列缓冲已满。注册流程不会因此阻塞。
	ErrQueueFull = errors.New("任务队列已满")
)

// MemoryQueue 是进程内的事件通道，serve 模式下由同进程的 Watcher 消费。
type MemoryQueue struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		events: make(chan Event, size),
		done:   make(chan struct{}),
		log:    logger.Named("memory-queue"),
	}
}

// Publish 立即返回：缓冲满时丢弃事件并返回 ErrQueueFull。
func (q *MemoryQueue) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.events <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume 启动 workerCount 个协程处理事件，直到 ctx 结束或队列关闭。
// 处理失败的事件只记录日志，不会重新投递。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case event := <-q.events:
					if err := handler(ctx, event); err != nil {
						q.log.Warn("任务事件处理失败",
							slog.String("task_id", event.Task.ID),
							slog.Any("error", err))
					}
				}
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrQueueClosed
}

// Len 返回尚未消费的事件数。
func (q *MemoryQueue) Len() int { return len(q.events) }

// Close 停止所有消费者，未消费的事件被丢弃。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
