package task

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/web3"
	"ConsensusMCP-Chain/pkg/logger"
)

const defaultStatusTimeout = 15 * time.Second

// StatusReader 读取账户的自动化状态视图。
type StatusReader interface {
	ReadAutomationStatus(ctx context.Context, address string) (web3.AutomationStatus, error)
}

// StatusSnapshot 是面向展示的状态快照。查询失败时 Degraded 为真，
// 其余字段保持未初始化、未激活的默认值。
type StatusSnapshot struct {
	Address string `json:"address"`
	web3.AutomationStatus
	Tasks     int       `json:"tasks"`
	Degraded  bool      `json:"degraded,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Registry 负责任务的追加、查询以及链上状态刷新。
type Registry struct {
	mu            sync.Mutex
	store         Store
	status        StatusReader
	producer      Producer
	statusTimeout time.Duration
	now           func() time.Time
	log           *slog.Logger
}

// RegistryOption 定义可选配置。
type RegistryOption func(*Registry)

// WithStatusReader 配置链上状态查询。
func WithStatusReader(reader StatusReader) RegistryOption {
	return func(r *Registry) {
		r.status = reader
	}
}

// WithProducer 配置注册事件的发布通道。
func WithProducer(producer Producer) RegistryOption {
	return func(r *Registry) {
		r.producer = producer
	}
}

// WithStatusTimeout 设置状态查询的超时时间。
func WithStatusTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.statusTimeout = timeout
		}
	}
}

// WithClock 替换时间来源，便于测试。
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry 构造任务注册表。
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		store:         store,
		statusTimeout: defaultStatusTimeout,
		now:           time.Now,
		log:           logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Append 串行追加任务并发布注册事件。发布失败只记录日志。
func (r *Registry) Append(ctx context.Context, task AutomationTask) error {
	r.mu.Lock()
	err := r.store.Append(ctx, task)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	logger.Audit().Info("自动化任务已登记",
		slog.String("task_id", task.ID),
		slog.String("tx_hash", task.TxHash),
		slog.String("pair", task.Pair),
		slog.Uint64("budget", task.Budget),
		slog.Time("expires_at", task.ExpiresAt),
	)

	if r.producer != nil {
		event := Event{Type: EventRegistered, Task: task, OccurredAt: r.now()}
		if pubErr := r.producer.Publish(ctx, event); pubErr != nil {
			wrapped := xerrors.Wrap(CodeTaskPublish, pubErr, "发布任务事件失败", xerrors.WithMetadata("task_id", task.ID))
			r.log.Warn("任务事件发布失败", slog.Any("error", wrapped))
		}
	}
	return nil
}

// Get 返回指定任务。
func (r *Registry) Get(ctx context.Context, id string) (AutomationTask, error) {
	return r.store.Get(ctx, strings.TrimSpace(id))
}

// List 按插入顺序列出任务。
func (r *Registry) List(ctx context.Context, options ...ListOption) ([]AutomationTask, error) {
	return r.store.List(ctx, BuildListOptions(options...))
}

// Stats 汇总当前所有任务。
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	tasks, err := r.store.List(ctx, ListOptions{})
	if err != nil {
		return Stats{}, err
	}
	return Summarize(tasks), nil
}

// RefreshStatus 每次都重新查询链上视图，不缓存结果。查询失败时返回
// 降级快照而不是错误。
func (r *Registry) RefreshStatus(ctx context.Context, address string) StatusSnapshot {
	snapshot := StatusSnapshot{Address: strings.TrimSpace(address), CheckedAt: r.now()}
	if tasks, err := r.store.List(ctx, ListOptions{}); err == nil {
		for _, t := range tasks {
			if snapshot.Address == "" || strings.EqualFold(t.Account, snapshot.Address) {
				snapshot.Tasks++
			}
		}
	}

	if r.status == nil {
		snapshot.Degraded = true
		snapshot.Error = "status reader not configured"
		return snapshot
	}

	callCtx, cancel := context.WithTimeout(ctx, r.statusTimeout)
	defer cancel()
	status, err := r.status.ReadAutomationStatus(callCtx, snapshot.Address)
	if err != nil {
		r.log.Warn("查询自动化状态失败，返回默认快照",
			slog.String("address", snapshot.Address),
			slog.Any("error", err))
		snapshot.Degraded = true
		snapshot.Error = err.Error()
		return snapshot
	}
	snapshot.AutomationStatus = status
	return snapshot
}

// Close 释放底层存储。
func (r *Registry) Close() error {
	return r.store.Close()
}
