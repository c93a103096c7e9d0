package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"ConsensusMCP-Chain/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 以 LPUSH/BRPOP 实现的先进先出事件队列。处理失败的事件
// 转入 <queue>:dead 列表，便于人工排查。
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
	dead   string
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisQueue 连接 Redis 并确认可用。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
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
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisQueue(client, cfg.Queue, cfg.BlockWait), nil
}

func newRedisQueue(client redis.UniversalClient, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = "consensus:tasks"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{
		client: client,
		queue:  queue,
		dead:   queue + ":dead",
		wait:   wait,
		log:    logger.Named("redis-queue"),
	}
}

// Publish 将事件压入列表头部。
func (q *RedisQueue) Publish(ctx context.Context, event Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.queue, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布任务事件失败: %w", err)
	}
	return nil
}

// Consume 启动 workerCount 个 BRPOP 循环，任一循环出现连接错误即整体返回。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error { return q.loop(gctx, handler) })
	}
	return g.Wait()
}

func (q *RedisQueue) loop(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("Redis 取任务事件失败: %w", err)
		case len(values) != 2:
			continue
		}

		payload := values[1]
		event, err := DecodeEvent([]byte(payload))
		if err != nil {
			q.log.Warn("丢弃无法解析的任务事件", slog.String("queue", q.queue), slog.Any("error", err))
			continue
		}
		if err := handler(ctx, event); err != nil {
			q.log.Warn("任务事件处理失败，转入死信列表",
				slog.String("task_id", event.Task.ID),
				slog.String("dead_letter", q.dead),
				slog.Any("error", err))
			if pushErr := q.client.LPush(ctx, q.dead, payload).Err(); pushErr != nil {
				q.log.Error("写入死信列表失败", slog.Any("error", pushErr))
			}
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
