package normalizer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/i2y/merchanttools/internal/domain"
	"github.com/i2y/merchanttools/internal/usecase"
)

// ClientFactory constructs an AI completer for a merchant's configuration.
type ClientFactory func(cfg domain.AIConfig) (usecase.AICompleter, error)

type cacheEntry struct {
	cfg    domain.AIConfig
	client usecase.AICompleter
}

// ClientCache holds one lazily constructed AI client per merchant.
//
// An entry is only valid for the AI configuration it was built from. Callers
// must Invalidate a merchant when its configuration changes; Get also
// rebuilds when it sees a configuration that differs from the cached one.
type ClientCache struct {
	factory ClientFactory
	logger  *slog.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewClientCache creates an empty cache backed by factory.
func NewClientCache(factory ClientFactory, logger *slog.Logger) *ClientCache {
	return &ClientCache{
		factory: factory,
		logger:  logger.With("component", "ai_client_cache"),
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the client for merchant, building it on first use.
// It returns usecase.ErrNoAIBackend when the merchant has no AI configured.
func (c *ClientCache) Get(merchant domain.Merchant) (usecase.AICompleter, error) {
	if merchant.AI == nil || (merchant.AI.Provider == "" && merchant.AI.Model == "") {
		return nil, usecase.ErrNoAIBackend
	}
	cfg := *merchant.AI

	c.mu.RLock()
	entry, ok := c.entries[merchant.ID]
	c.mu.RUnlock()
	if ok && entry.cfg == cfg {
		return entry.client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[merchant.ID]; ok && entry.cfg == cfg {
		return entry.client, nil
	}
	client, err := c.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build AI client for merchant %s: %w", merchant.ID, err)
	}
	if ok {
		c.logger.Info("AI configuration changed, rebuilt client", slog.String("merchant_id", merchant.ID))
	}
	c.entries[merchant.ID] = cacheEntry{cfg: cfg, client: client}
	return client, nil
}

// Invalidate drops the cached client of a merchant.
func (c *ClientCache) Invalidate(merchantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[merchantID]; ok {
		delete(c.entries, merchantID)
		c.logger.Info("Invalidated AI client", slog.String("merchant_id", merchantID))
	}
}

// Len reports the number of cached clients.
func (c *ClientCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
