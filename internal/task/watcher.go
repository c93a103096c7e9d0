package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/pkg/logger"
)

const (
	defaultReconnectDelay    = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
)

// Watcher 消费任务注册事件，并为每个事件刷新一次账户的链上状态。
type Watcher struct {
	consumer       Consumer
	registry       *Registry
	workerCount    int
	onEvent        func(Event, StatusSnapshot)
	reconnectDelay time.Duration
	maxReconnect   time.Duration
	logger         *slog.Logger
}

// WatcherOption 定义可选配置。
type WatcherOption func(*Watcher)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) WatcherOption {
	return func(w *Watcher) {
		if workers > 0 {
			w.workerCount = workers
		}
	}
}

// WithEventCallback 在每个事件处理完后回调，用于命令行输出。
func WithEventCallback(fn func(Event, StatusSnapshot)) WatcherOption {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// WithReconnectDelay 设置消费中断后的首次重连等待与上限，之后按倍数递增。
func WithReconnectDelay(initial, max time.Duration) WatcherOption {
	return func(w *Watcher) {
		if initial > 0 {
			w.reconnectDelay = initial
		}
		if max >= w.reconnectDelay {
			w.maxReconnect = max
		}
	}
}

// NewWatcher 构造 Watcher。
func NewWatcher(consumer Consumer, registry *Registry, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		consumer:       consumer,
		registry:       registry,
		workerCount:    1,
		reconnectDelay: defaultReconnectDelay,
		maxReconnect:   defaultMaxReconnectDelay,
		logger:         logger.Named("task-watcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.maxReconnect < w.reconnectDelay {
		w.maxReconnect = w.reconnectDelay
	}
	return w
}

// Start 启动消费循环，直到 ctx 结束或队列被关闭。
// 消费端出错只记录日志并退避重连，不会向调用方返回。
func (w *Watcher) Start(ctx context.Context) error {
	if w.consumer == nil || w.registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务事件消费者")
	}

	delay := w.reconnectDelay
	for {
		err := w.consumer.Consume(ctx, w.workerCount, w.handle)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil || errors.Is(err, ErrQueueClosed) {
			return nil
		}

		w.logger.Warn("任务事件消费中断，稍后重连",
			slog.Any("error", err),
			slog.Duration("retry_in", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, w.maxReconnect)
	}
}

// handle 在状态查询降级时返回错误，交由队列做死信或重投。
// 未配置状态读取器时的降级是常态，不视为失败。
func (w *Watcher) handle(ctx context.Context, event Event) error {
	snapshot := w.registry.RefreshStatus(ctx, event.Task.Account)
	w.logger.Info("收到任务事件",
		slog.String("type", string(event.Type)),
		slog.String("task_id", event.Task.ID),
		slog.String("pair", event.Task.Pair),
		slog.Bool("initialized", snapshot.Initialized),
		slog.Bool("active", snapshot.Active),
		slog.Bool("degraded", snapshot.Degraded),
	)
	if w.onEvent != nil {
		w.onEvent(event, snapshot)
	}
	if snapshot.Degraded && w.registry.status != nil {
		return xerrors.New(CodeTaskStatus, "刷新链上自动化状态失败",
			xerrors.WithMetadata("task_id", event.Task.ID),
			xerrors.WithMetadata("account", snapshot.Address),
			xerrors.WithMetadata("cause", snapshot.Error))
	}
	return nil
}
