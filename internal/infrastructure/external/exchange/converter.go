// Package exchange converts expense amounts into the company currency using
// a public latest-rates API.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// Config holds rate API settings
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Converter implements port.CurrencyConverter
type Converter struct {
	baseURL string
	client  *http.Client
	cache   *rateCache
	logger  *zap.Logger
}

// latestResponse is the body of GET {base}/latest/{currency}
type latestResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// NewConverter creates a converter. redisClient may be nil to cache in
// process only.
func NewConverter(cfg Config, redisClient redis.UniversalClient, logger *zap.Logger) *Converter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Converter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   newRateCache(redisClient, "fx:", cfg.CacheTTL, logger),
		logger:  logger,
	}
}

// Convert returns amount expressed in to, rounded to two places. When the
// rate cannot be determined the amount is returned unchanged.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" || from == to {
		return amount.Round(2)
	}

	rate, err := c.Rate(ctx, from, to)
	if err != nil {
		c.logger.Warn("Exchange rate unavailable, using identity",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return amount.Round(2)
	}
	return amount.Mul(rate).Round(2)
}

// Rate returns the multiplier from one currency to another
func (c *Converter) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	table, ok := c.cache.get(ctx, from)
	if !ok {
		var err error
		table, err = c.fetch(ctx, from)
		if err != nil {
			return decimal.Zero, err
		}
		c.cache.set(ctx, table)
	}

	rate, ok := table.Rates[to]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("no %s rate quoted for %s", to, from)
	}
	return rate, nil
}

func (c *Converter) fetch(ctx context.Context, base string) (*rateTable, error) {
	url := fmt.Sprintf("%s/latest/%s", c.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}

	c.logger.Debug("Exchange rates fetched", zap.String("base", base), zap.Int("rates", len(body.Rates)))
	return &rateTable{Base: base, Rates: body.Rates, FetchedAt: c.cache.now()}, nil
}

var _ port.CurrencyConverter = (*Converter)(nil)
