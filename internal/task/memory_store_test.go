package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func sampleTask(i int) AutomationTask {
	hash := fmt.Sprintf("0x%064x", i+1)
	return AutomationTask{
		ID:           IDFromTxHash(hash),
		TxHash:       hash,
		Pair:         "ETH_USDT",
		Budget:       1_000_000,
		Status:       StatusActive,
		RegisteredAt: time.Unix(1_700_000_000+int64(i), 0),
	}
}

func TestMemoryStoreKeepsInsertionOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 5; i >= 0; i-- {
		if err := store.Append(ctx, sampleTask(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 tasks, got %d", len(all))
	}
	if all[0].ID != sampleTask(5).ID || all[5].ID != sampleTask(0).ID {
		t.Fatalf("insertion order not preserved: first=%s last=%s", all[0].ID, all[5].ID)
	}

	page, err := store.List(ctx, BuildListOptions(WithOffset(2), WithLimit(2)))
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 || page[0].ID != all[2].ID {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestMemoryStoreAppendIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	task := sampleTask(1)

	if err := store.Append(ctx, task); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := store.Append(ctx, task); err != nil {
		t.Fatalf("repeated append should be a no-op: %v", err)
	}

	clash := task
	clash.TxHash = "0xdeadbeef" + task.ID
	if err := store.Append(ctx, clash); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	all, _ := store.List(ctx, ListOptions{})
	if len(all) != 1 {
		t.Fatalf("expected a single task, got %d", len(all))
	}
}

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := sampleTask(1)
	b := sampleTask(2)
	b.Pair = "BTC_USDT"
	b.Status = StatusExpired
	for _, task := range []AutomationTask{a, b} {
		if err := store.Append(ctx, task); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	expired, err := store.List(ctx, BuildListOptions(WithStatuses("expired")))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != b.ID {
		t.Fatalf("unexpected status filter result: %+v", expired)
	}

	eth, _ := store.List(ctx, BuildListOptions(WithPair("eth_usdt")))
	if len(eth) != 1 || eth[0].ID != a.ID {
		t.Fatalf("unexpected pair filter result: %+v", eth)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreValidates(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Append(context.Background(), AutomationTask{ID: "x"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestIDFromTxHash(t *testing.T) {
	if got := IDFromTxHash("0xabcdef0123456789"); got != "23456789" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := IDFromTxHash("0xab"); got != "0xab" {
		t.Fatalf("short hashes are kept as-is, got %q", got)
	}
}
