package task

import "context"

// Store 抽象了自动化任务的持久化接口。实现必须保持插入顺序，
// 并且对同一笔交易的重复追加保持幂等。
type Store interface {
	Append(ctx context.Context, task AutomationTask) error
	Get(ctx context.Context, id string) (AutomationTask, error)
	List(ctx context.Context, opts ListOptions) ([]AutomationTask, error)
	Close() error
}
