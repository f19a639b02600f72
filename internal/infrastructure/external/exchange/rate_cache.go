package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// rateTable is the set of rates quoted against one base currency
type rateTable struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

// rateCache keeps rate tables in process (L1) and optionally in Redis (L2)
// so several service instances share one upstream fetch per TTL
type rateCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	local map[string]*rateTable
}

func newRateCache(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *rateCache {
	if prefix == "" {
		prefix = "fx:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &rateCache{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		local:  make(map[string]*rateTable),
	}
}

func (c *rateCache) get(ctx context.Context, base string) (*rateTable, bool) {
	c.mu.RLock()
	table, ok := c.local[base]
	c.mu.RUnlock()
	if ok && c.fresh(table) {
		return table, true
	}

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, c.prefix+base).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Rate cache lookup failed", zap.String("base", base), zap.Error(err))
		}
		return nil, false
	}

	var cached rateTable
	if err := json.Unmarshal(data, &cached); err != nil || !c.fresh(&cached) {
		return nil, false
	}
	c.setLocal(base, &cached)
	return &cached, true
}

func (c *rateCache) set(ctx context.Context, table *rateTable) {
	c.setLocal(table.Base, table)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(table)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.prefix+table.Base, data, c.ttl).Err(); err != nil {
		c.logger.Debug("Rate cache store failed", zap.String("base", table.Base), zap.Error(err))
	}
}

func (c *rateCache) setLocal(base string, table *rateTable) {
	c.mu.Lock()
	c.local[base] = table
	c.mu.Unlock()
}

func (c *rateCache) fresh(table *rateTable) bool {
	return c.now().Sub(table.FetchedAt) < c.ttl
}
