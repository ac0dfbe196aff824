package recorder

import (
	"context"
	"sync"
	"testing"
)

func TestShardIsStableAcrossCalls(t *testing.T) {
	a := shard("visitor-1", 8)
	b := shard("visitor-1", 8)
	if a != b {
		t.Fatalf("shard must be deterministic: got %d then %d", a, b)
	}
}

func TestShardDistributesAcrossWorkers(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		key := string(rune('a' + i%26))
		seen[shard(key, 4)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected keys to spread across more than one shard, got %d distinct shards", len(seen))
	}
}

func TestPoolPreservesPerVisitorOrder(t *testing.T) {
	var mu sync.Mutex
	var received []int

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(ctx, Config{Workers: 4, MaxPayloadSize: 1, BulkTracking: false, QueueSize: 4}, func(_ context.Context, batch []map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		for _, args := range batch {
			received = append(received, args["seq"].(int))
		}
		return nil
	})

	const visitor = "same-visitor"
	for i := 0; i < 10; i++ {
		p.Enqueue(ctx, visitor, map[string]any{"seq": i})
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range received {
		if v != i {
			t.Fatalf("hits for one visitor arrived out of order: %v", received)
		}
	}
}

func TestPoolStopsSendingAfterFatalError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	var mu sync.Mutex
	p := New(ctx, Config{Workers: 1, MaxPayloadSize: 1, BulkTracking: false, QueueSize: 4}, func(_ context.Context, batch []map[string]any) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errFatalStub
	})

	for i := 0; i < 5; i++ {
		p.Enqueue(ctx, "v", map[string]any{"seq": i})
	}
	if err := p.Wait(); err == nil {
		t.Fatal("expected the pool to surface the worker's error")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected the worker to stop sending after the first failed send, got %d calls", calls)
	}
}

var errFatalStub = &stubError{"send failed"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
