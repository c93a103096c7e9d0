package task

import (
	"context"
	"sync"
)

// MemoryStore 以插入顺序在内存中保存任务。
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]AutomationTask
}

// NewMemoryStore 创建一个内存任务存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]AutomationTask)}
}

// Append 追加任务；同一交易重复追加时直接返回。
func (s *MemoryStore) Append(_ context.Context, task AutomationTask) error {
	if err := validate(task); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tasks[task.ID]; ok {
		if existing.TxHash == task.TxHash {
			return nil
		}
		return ErrTaskConflict
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	return nil
}

// Get 返回指定任务。
func (s *MemoryStore) Get(_ context.Context, id string) (AutomationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return AutomationTask{}, ErrTaskNotFound
	}
	return task, nil
}

// List 按插入顺序返回任务。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]AutomationTask, error) {
	opts.applyDefaults()
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]AutomationTask, 0, len(s.order))
	for _, id := range s.order {
		if task := s.tasks[id]; opts.matches(task) {
			matched = append(matched, task)
		}
	}
	return opts.Page(matched), nil
}

// Close 实现 Store 接口。
func (s *MemoryStore) Close() error { return nil }
