// Package recorder implements the worker pool that turns queued tracker
// argument maps into HTTP batches, preserving per-visitor ordering by
// sharding on a stable hash of the visitor key.
package recorder

import (
	"context"
	"hash/fnv"
	"sync"
)

// Sender performs one HTTP call carrying a batch of tracker argument
// maps. Supplied by the caller (internal/trackhttp); returning an error
// here is always treated as fatal to the run, matching spec.md §4.7's
// "tracker errors are fatal" rule.
type Sender func(ctx context.Context, batch []map[string]any) error

// Config configures the pool.
type Config struct {
	Workers        int
	MaxPayloadSize int  // max hits per batch, per worker
	BulkTracking   bool // false forces one HTTP call per hit
	QueueSize      int  // per-worker channel capacity; spec.md default ~2
}

// Pool fans hits out across N workers, each owning one bounded queue and
// sending batches through Sender.
type Pool struct {
	cfg     Config
	send    Sender
	queues  []chan map[string]any
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	mu      sync.Mutex
}

// New builds and starts a Pool of cfg.Workers goroutines. ctx is passed
// to every Sender call; workers exit only once Wait closes their queues,
// so the caller must call Wait to drain in-flight batches and obtain the
// first send error.
func New(ctx context.Context, cfg Config, send Sender) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2
	}
	p := &Pool{cfg: cfg, send: send}
	p.queues = make([]chan map[string]any, cfg.Workers)
	for i := range p.queues {
		p.queues[i] = make(chan map[string]any, cfg.QueueSize)
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(ctx, i)
	}
	return p
}

// shard returns the worker index for visitorKey, by 64-bit FNV-1a,
// per spec.md §9 Open Question #2 — this replaces the original
// importer's unstable Python hash() with a reproducible function so
// the same visitor always lands on the same worker across runs.
func shard(visitorKey string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(visitorKey))
	return int(h.Sum64() % uint64(n))
}

// Enqueue routes a hit's args to the worker responsible for visitorKey,
// blocking if that worker's queue is full (backpressure, per spec.md §5
// resource model). Enqueue must not be called after Wait has returned.
func (p *Pool) Enqueue(ctx context.Context, visitorKey string, args map[string]any) {
	idx := shard(visitorKey, len(p.queues))
	select {
	case p.queues[idx] <- args:
	case <-ctx.Done():
	}
}

// Wait closes every worker's queue and blocks until all workers have
// drained and sent their final (possibly partial) batch.
func (p *Pool) Wait() error {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pool) worker(ctx context.Context, idx int) {
	defer p.wg.Done()
	q := p.queues[idx]
	batch := make([]map[string]any, 0, p.cfg.MaxPayloadSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.send(ctx, batch); err != nil {
			p.recordErr(err)
		}
		batch = batch[:0]
	}

	maxBatch := p.cfg.MaxPayloadSize
	if maxBatch <= 0 || !p.cfg.BulkTracking {
		maxBatch = 1
	}

	for args := range q {
		if p.hasErr() {
			continue // drain the queue without sending once a worker has hit a fatal error
		}
		batch = append(batch, args)
		if len(batch) >= maxBatch {
			flush()
		}
	}
	flush()
}

func (p *Pool) recordErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Pool) hasErr() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}
