package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"ConsensusMCP-Chain/pkg/logger"
)

const rabbitConsumerTag = "consensus-task-watcher"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 通过默认交换机投递注册事件，发布端开启 publisher confirm。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	publish *amqp.Channel
	consume *amqp.Channel
	queue   string
	// 同一 channel 上的发布与确认需要串行。
	pubMu sync.Mutex
	log   *slog.Logger
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "consensus.tasks"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	q := &RabbitMQQueue{conn: conn, queue: queue, log: logger.Named("rabbitmq-queue")}
	if err := q.setup(cfg); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	var err error
	if q.publish, err = q.conn.Channel(); err != nil {
		return fmt.Errorf("创建 RabbitMQ 发布 channel 失败: %w", err)
	}
	if err := q.publish.Confirm(false); err != nil {
		return fmt.Errorf("开启 publisher confirm 失败: %w", err)
	}
	if _, err := q.publish.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}

	if q.consume, err = q.conn.Channel(); err != nil {
		return fmt.Errorf("创建 RabbitMQ 消费 channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := q.consume.Qos(cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	return nil
}

// Publish 投递事件并等待 broker 确认。
func (q *RabbitMQQueue) Publish(ctx context.Context, event Event) error {
	if q == nil || q.publish == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	payload, err := event.Encode()
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	confirm, err := q.publish.PublishWithDeferredConfirmWithContext(ctx, "", q.queue, false, false, publishing(event, payload))
	if err != nil {
		return fmt.Errorf("RabbitMQ 发布任务事件失败: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("RabbitMQ 拒绝了任务事件 %s", event.Task.ID)
	}
	return nil
}

func publishing(event Event, payload []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.Task.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Headers:      amqp.Table{"pair": event.Task.Pair, "account": event.Task.Account},
		Body:         payload,
	}
}

// Consume 以手动确认模式消费。处理失败的消息重投一次，再次失败后丢弃。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.consume == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.consume.ConsumeWithContext(ctx, q.queue, rabbitConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case msg, ok := <-msgs:
					if !ok {
						return errors.New("RabbitMQ 消费通道已关闭")
					}
					q.deliver(gctx, msg, handler)
				}
			}
		})
	}
	return g.Wait()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, msg amqp.Delivery, handler Handler) {
	event, err := DecodeEvent(msg.Body)
	if err != nil {
		q.log.Warn("丢弃无法解析的任务事件", slog.String("message_id", msg.MessageId), slog.Any("error", err))
		_ = msg.Nack(false, false)
		return
	}
	if err := handler(ctx, event); err != nil {
		q.log.Warn("任务事件处理失败",
			slog.String("task_id", event.Task.ID),
			slog.Bool("redelivered", msg.Redelivered),
			slog.Any("error", err))
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}
	_ = msg.Ack(false)
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.consume != nil {
		_ = q.consume.Close()
	}
	if q.publish != nil {
		_ = q.publish.Close()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn.Close()
	}
	return nil
}
