package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/web3"
)

func TestEventRoundTrip(t *testing.T) {
	event := Event{Type: EventRegistered, Task: sampleTask(1), OccurredAt: time.Unix(1_700_000_000, 0).UTC()}
	payload, err := event.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, event.Task.ID, decoded.Task.ID)
	assert.True(t, event.OccurredAt.Equal(decoded.OccurredAt))

	_, err = DecodeEvent([]byte(`{"type":"task.registered","task":{}}`))
	assert.Error(t, err)
}

func TestWatcherRefreshesStatusPerEvent(t *testing.T) {
	queue := NewMemoryQueue(4)
	reader := &stubStatusReader{status: web3.AutomationStatus{Initialized: true}}
	reg := NewRegistry(NewMemoryStore(), WithStatusReader(reader))

	seen := make(chan StatusSnapshot, 1)
	watcher := NewWatcher(queue, reg, WithEventCallback(func(_ Event, s StatusSnapshot) {
		seen <- s
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Start(ctx) }()

	task := sampleTask(2)
	task.Account = "0xabc"
	require.NoError(t, queue.Publish(ctx, Event{Type: EventRegistered, Task: task}))

	select {
	case snapshot := <-seen:
		assert.True(t, snapshot.Initialized)
		assert.Equal(t, "0xabc", snapshot.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not handle the event")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

// flakyConsumer 第一次消费立即失败，之后投递一个事件并阻塞到 ctx 结束。
type flakyConsumer struct {
	calls atomic.Int32
	event Event
}

func (c *flakyConsumer) Consume(ctx context.Context, _ int, handler Handler) error {
	if c.calls.Add(1) == 1 {
		return errors.New("connection reset by peer")
	}
	_ = handler(ctx, c.event)
	<-ctx.Done()
	return ctx.Err()
}

func (c *flakyConsumer) Close() error { return nil }

func TestWatcherReconnectsAfterConsumerError(t *testing.T) {
	task := sampleTask(3)
	task.Account = "0xabc"
	consumer := &flakyConsumer{event: Event{Type: EventRegistered, Task: task}}
	reg := NewRegistry(NewMemoryStore(), WithStatusReader(&stubStatusReader{status: web3.AutomationStatus{Active: true}}))

	seen := make(chan StatusSnapshot, 1)
	watcher := NewWatcher(consumer, reg,
		WithReconnectDelay(time.Millisecond, 5*time.Millisecond),
		WithEventCallback(func(_ Event, s StatusSnapshot) { seen <- s }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Start(ctx) }()

	select {
	case snapshot := <-seen:
		assert.True(t, snapshot.Active)
	case err := <-done:
		t.Fatalf("watcher stopped after a consumer error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not reconnect")
	}
	assert.Equal(t, int32(2), consumer.calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherStopsWhenQueueCloses(t *testing.T) {
	queue := NewMemoryQueue(1)
	watcher := NewWatcher(queue, NewRegistry(NewMemoryStore()))
	done := make(chan error, 1)
	go func() { done <- watcher.Start(context.Background()) }()

	require.NoError(t, queue.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after close")
	}
}

func TestWatcherHandleReportsFailedStatusRead(t *testing.T) {
	task := sampleTask(4)
	task.Account = "0xabc"
	event := Event{Type: EventRegistered, Task: task}
	ctx := context.Background()

	failing := NewWatcher(NewMemoryQueue(1), NewRegistry(NewMemoryStore(),
		WithStatusReader(&stubStatusReader{err: errors.New("rpc timeout")})))
	err := failing.handle(ctx, event)
	require.Error(t, err)
	assert.Equal(t, CodeTaskStatus, xerrors.CodeOf(err))

	healthy := NewWatcher(NewMemoryQueue(1), NewRegistry(NewMemoryStore(),
		WithStatusReader(&stubStatusReader{status: web3.AutomationStatus{Initialized: true}})))
	assert.NoError(t, healthy.handle(ctx, event))

	// 未配置链时没有状态可查，事件直接确认。
	chainless := NewWatcher(NewMemoryQueue(1), NewRegistry(NewMemoryStore()))
	assert.NoError(t, chainless.handle(ctx, event))
}

func TestMemoryQueueDoesNotBlockWhenFull(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, Event{Type: EventRegistered, Task: sampleTask(1)}))
	assert.ErrorIs(t, queue.Publish(ctx, Event{Type: EventRegistered, Task: sampleTask(2)}), ErrQueueFull)
	assert.Equal(t, 1, queue.Len())

	require.NoError(t, queue.Close())
	assert.ErrorIs(t, queue.Publish(ctx, Event{Type: EventRegistered, Task: sampleTask(3)}), ErrQueueClosed)
}

func TestMemoryQueueConsumeStopsOnClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(context.Background(), 2, func(context.Context, Event) error { return nil })
	}()

	require.NoError(t, queue.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after close")
	}
}

func TestRegistryAppendSurvivesFullQueue(t *testing.T) {
	queue := NewMemoryQueue(1)
	reg := NewRegistry(NewMemoryStore(), WithProducer(queue))
	ctx := context.Background()

	require.NoError(t, reg.Append(ctx, sampleTask(1)))
	require.NoError(t, reg.Append(ctx, sampleTask(2)))

	tasks, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Equal(t, 1, queue.Len())
}
