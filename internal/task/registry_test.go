package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ConsensusMCP-Chain/internal/web3"
)

type stubStatusReader struct {
	status web3.AutomationStatus
	err    error
	calls  int
}

func (s *stubStatusReader) ReadAutomationStatus(context.Context, string) (web3.AutomationStatus, error) {
	s.calls++
	return s.status, s.err
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, Event) error { return errors.New("broker down") }
func (failingProducer) Close() error { return nil }

func TestRegistryRefreshStatusAlwaysRequeries(t *testing.T) {
	reader := &stubStatusReader{status: web3.AutomationStatus{Initialized: true, Active: true, Used: 1, Total: 2}}
	now := time.Unix(1_700_000_000, 0)
	reg := NewRegistry(NewMemoryStore(), WithStatusReader(reader), WithClock(func() time.Time { return now }))

	task := sampleTask(1)
	task.Account = "0xAbC"
	require.NoError(t, reg.Append(context.Background(), task))

	first := reg.RefreshStatus(context.Background(), "0xabc")
	second := reg.RefreshStatus(context.Background(), "0xabc")

	assert.Equal(t, 2, reader.calls)
	assert.True(t, first.Initialized)
	assert.True(t, second.Active)
	assert.Equal(t, 1, first.Tasks)
	assert.Equal(t, now, first.CheckedAt)
	assert.False(t, first.Degraded)
}

func TestRegistryRefreshStatusDegradesOnFailure(t *testing.T) {
	reader := &stubStatusReader{
		status: web3.AutomationStatus{Initialized: true, Active: true},
		err:    errors.New("rpc unavailable"),
	}
	reg := NewRegistry(nil, WithStatusReader(reader))

	snapshot := reg.RefreshStatus(context.Background(), "0xabc")

	assert.True(t, snapshot.Degraded)
	assert.False(t, snapshot.Initialized)
	assert.False(t, snapshot.Active)
	assert.Contains(t, snapshot.Error, "rpc unavailable")

	unconfigured := NewRegistry(nil).RefreshStatus(context.Background(), "0xabc")
	assert.True(t, unconfigured.Degraded)
}

func TestRegistryAppendPublishesEvent(t *testing.T) {
	queue := NewMemoryQueue(4)
	reg := NewRegistry(NewMemoryStore(), WithProducer(queue))
	task := sampleTask(3)

	require.NoError(t, reg.Append(context.Background(), task))

	select {
	case event := <-queue.events:
		assert.Equal(t, EventRegistered, event.Type)
		assert.Equal(t, task.ID, event.Task.ID)
	default:
		t.Fatal("expected a registration event")
	}

	stats, err := reg.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusActive])
}

func TestRegistryAppendSurvivesPublishFailure(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), WithProducer(failingProducer{}))
	require.NoError(t, reg.Append(context.Background(), sampleTask(4)))

	tasks, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestRegistryConcurrentAppends(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = reg.Append(context.Background(), sampleTask(i))
		}(i)
	}
	wg.Wait()

	tasks, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 32)
}
