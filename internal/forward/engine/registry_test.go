package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"forwardbot/internal/forward"
)

func TestRegistryTryAcquireSingleWinner(t *testing.T) {
	r := NewRegistry()
	pair := forward.Pair{SourceChatID: 100, DestChatID: 200}

	const contenders = 32
	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.TryAcquire(pair, fmt.Sprintf("task_%08d", i)) {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("expected 1 active pair, got %d", r.ActiveCount())
	}

	// 释放后通路立即可用
	r.Release(pair)
	if !r.TryAcquire(pair, "task_after") {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestRegistryDistinctPairsIndependent(t *testing.T) {
	r := NewRegistry()

	if !r.TryAcquire(forward.Pair{SourceChatID: 1, DestChatID: 2}, "task_a") {
		t.Fatal("expected first pair acquire to succeed")
	}
	if !r.TryAcquire(forward.Pair{SourceChatID: 1, DestChatID: 3}, "task_b") {
		t.Fatal("expected different destination to be independent")
	}
	if !r.TryAcquire(forward.Pair{SourceChatID: 2, DestChatID: 2}, "task_c") {
		t.Fatal("expected different source to be independent")
	}
	if r.ActiveCount() != 3 {
		t.Fatalf("expected 3 active pairs, got %d", r.ActiveCount())
	}
}

func TestRegistryActiveTask(t *testing.T) {
	r := NewRegistry()
	pair := forward.Pair{SourceChatID: 1, DestChatID: 2}

	if _, ok := r.ActiveTask(pair); ok {
		t.Fatal("expected no holder before acquire")
	}

	r.TryAcquire(pair, "task_holder")
	holder, ok := r.ActiveTask(pair)
	if !ok || holder != "task_holder" {
		t.Fatalf("expected holder task_holder, got %q (ok=%v)", holder, ok)
	}
}

func TestRegistryCancelFlag(t *testing.T) {
	r := NewRegistry()

	if r.IsCancelled("task_x") {
		t.Fatal("unknown task should not report cancelled")
	}

	r.SetCancel("task_x")
	if !r.IsCancelled("task_x") {
		t.Fatal("expected cancel flag to be set")
	}

	// 重复设置无害
	r.SetCancel("task_x")
	if !r.IsCancelled("task_x") {
		t.Fatal("expected cancel flag to stay set")
	}

	r.ClearCancel("task_x")
	if r.IsCancelled("task_x") {
		t.Fatal("expected cancel flag to be cleared")
	}
}
