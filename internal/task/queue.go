package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType 标识任务事件类型。
type EventType string

// EventRegistered 在任务注册成功并写入存储后发布。
const EventRegistered EventType = "task.registered"

// Event 是投递到队列中的任务事件。
type Event struct {
	Type       EventType      `json:"type"`
	Task       AutomationTask `json:"task"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Encode 序列化事件。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent 反序列化事件。
func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("解析任务事件失败: %w", err)
	}
	if event.Task.ID == "" {
		return Event{}, fmt.Errorf("任务事件缺少任务 ID")
	}
	return event, nil
}

// Handler 处理来自消息队列的任务事件。
type Handler func(ctx context.Context, event Event) error

// Producer 负责向队列投递任务事件。
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从队列中消费任务事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
