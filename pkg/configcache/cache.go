// Package configcache implements the two-level agent configuration cache:
// an in-process map in front of a shared Redis layer, backed by the
// authoritative relational store, with explicit invalidation.
package configcache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/config"
)

const keyPrefix = "agent_config:"

// AgentSource is the authoritative store lookup. Implemented by *store.Store.
type AgentSource interface {
	GetAgentConfig(ctx context.Context, agentID string) (*config.AgentConfig, error)
}

type entry struct {
	cfg        *config.AgentConfig
	insertedAt time.Time
}

// Cache is the two-level agent config cache. Reads go L1 → L2 → store; both
// layers are populated on a store read. Races between concurrent misses
// produce duplicate work, never incorrect config.
type Cache struct {
	source AgentSource
	rdb    redis.UniversalClient
	ttl    time.Duration

	mu    sync.RWMutex
	local map[string]entry
}

// New creates the cache. ttl bounds both the L2 keys and the L1 sweep.
func New(source AgentSource, rdb redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		local:  make(map[string]entry),
	}
}

// GetAgentConfigs resolves the three config blocks for an agent. Any failure
// returns the survival-mode defaults — chat keeps working — and the original
// error is logged at ERROR, never masked silently.
func (c *Cache) GetAgentConfigs(ctx context.Context, agentID string) (config.ExecutionConfig, config.QueryConfig, config.RAGConfig) {
	cfg, err := c.Get(ctx, agentID)
	if err != nil {
		slog.Error("Agent config resolution failed, using defaults",
			"agent_id", agentID, "error", err)
		return config.DefaultAgentConfigs()
	}
	return cfg.ExecutionConfig, cfg.QueryConfig, cfg.RAGConfig
}

// Get resolves the full agent record through the cache layers.
func (c *Cache) Get(ctx context.Context, agentID string) (*config.AgentConfig, error) {
	if agentID == "" {
		return nil, apperr.New(apperr.KindValidation, "agent_id is required")
	}

	// L1
	c.mu.RLock()
	e, ok := c.local[agentID]
	c.mu.RUnlock()
	if ok && time.Since(e.insertedAt) < c.ttl {
		return e.cfg, nil
	}

	// L2
	if cfg := c.getShared(ctx, agentID); cfg != nil {
		c.putLocal(agentID, cfg)
		return cfg, nil
	}

	// Authoritative store
	cfg, err := c.source.GetAgentConfig(ctx, agentID)
	if err != nil {
		return nil, err
	}

	c.putShared(ctx, agentID, cfg)
	c.putLocal(agentID, cfg)
	return cfg, nil
}

// Invalidate drops the agent's config from both layers. Writers to the
// authoritative store publish orchestrator.config.invalidate so peer
// processes drop their L1 as well.
func (c *Cache) Invalidate(ctx context.Context, agentID string) error {
	c.mu.Lock()
	delete(c.local, agentID)
	c.mu.Unlock()

	if err := c.rdb.Del(ctx, keyPrefix+agentID).Err(); err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, "cache invalidation failed", err)
	}
	slog.Info("Agent config invalidated", "agent_id", agentID)
	return nil
}

// HandleInvalidate is the worker handler for orchestrator.config.invalidate.
func (c *Cache) HandleInvalidate(ctx context.Context, a *actions.Action) (map[string]any, error) {
	agentID := a.DataString("agent_id")
	if agentID == "" {
		agentID = a.AgentID
	}
	if agentID == "" {
		return nil, apperr.New(apperr.KindValidation, "agent_id is required")
	}
	if err := c.Invalidate(ctx, agentID); err != nil {
		return nil, err
	}
	return nil, nil
}

// StartCleanup periodically sweeps expired L1 entries until ctx is done.
func (c *Cache) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanupLocal()
			}
		}
	}()
}

func (c *Cache) cleanupLocal() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for agentID, e := range c.local {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.local, agentID)
		}
	}
}

func (c *Cache) putLocal(agentID string, cfg *config.AgentConfig) {
	c.mu.Lock()
	c.local[agentID] = entry{cfg: cfg, insertedAt: time.Now()}
	c.mu.Unlock()
}

func (c *Cache) getShared(ctx context.Context, agentID string) *config.AgentConfig {
	raw, err := c.rdb.Get(ctx, keyPrefix+agentID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Shared config cache read failed", "agent_id", agentID, "error", err)
		}
		return nil
	}
	var cfg config.AgentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("Shared config cache entry corrupt", "agent_id", agentID, "error", err)
		return nil
	}
	cfg.Normalize()
	return &cfg
}

func (c *Cache) putShared(ctx context.Context, agentID string, cfg *config.AgentConfig) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+agentID, raw, c.ttl).Err(); err != nil {
		slog.Warn("Shared config cache write failed", "agent_id", agentID, "error", err)
	}
}
