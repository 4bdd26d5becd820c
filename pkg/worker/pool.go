package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nooble8/ragcore/pkg/bus"
	"github.com/nooble8/ragcore/pkg/config"
)

// Pool manages the consumer workers of one service role.
type Pool struct {
	id       string
	bus      *bus.Client
	registry *Registry
	cfg      config.WorkerConfig
	workers  []*Worker

	mu      sync.Mutex
	started bool
}

// NewPool creates a worker pool for the given service role.
func NewPool(id string, b *bus.Client, registry *Registry, cfg config.WorkerConfig) *Pool {
	return &Pool{
		id:       id,
		bus:      b,
		registry: registry,
		cfg:      cfg,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pool_id", p.id)
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "pool_id", p.id, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := NewWorker(fmt.Sprintf("%s-worker-%d", p.id, i), p.bus, p.registry, p.cfg)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// Stop signals all workers to stop and waits for them to finish their current
// actions (graceful shutdown).
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool", "pool_id", p.id)
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Worker pool stopped", "pool_id", p.id)
}

// Health returns per-worker health snapshots.
func (p *Pool) Health() []Health {
	stats := make([]Health, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Health()
	}
	return stats
}
