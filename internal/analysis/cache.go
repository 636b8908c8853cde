package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"smartvalue/internal/domain"
	"smartvalue/internal/store"
)

// Compile-time interface check.
var _ Analyzer = (*CachedAnalyzer)(nil)

// cachedOverview is the persisted form of a market overview.
type cachedOverview struct {
	FetchedAt time.Time                `json:"fetchedAt"`
	Markets   []domain.MarketSentiment `json:"markets"`
}

// CachedAnalyzer decorates an Analyzer with a market overview cache in a
// BlobStore and a price history cache in a HistoryStore. Instrument analyses
// always go to the inner analyzer.
type CachedAnalyzer struct {
	inner      Analyzer
	blobs      store.BlobStore
	history    store.HistoryStore
	marketTTL  time.Duration
	historyTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewCachedAnalyzer wraps inner. A nil history store disables history
// caching; a non-positive TTL disables the matching cache.
func NewCachedAnalyzer(inner Analyzer, blobs store.BlobStore, history store.HistoryStore, marketTTL, historyTTL time.Duration, log *slog.Logger) *CachedAnalyzer {
	return &CachedAnalyzer{
		inner:      inner,
		blobs:      blobs,
		history:    history,
		marketTTL:  marketTTL,
		historyTTL: historyTTL,
		now:        time.Now,
		log:        log,
	}
}

// AnalyzeInstrument is never cached.
func (c *CachedAnalyzer) AnalyzeInstrument(ctx context.Context, inst domain.Instrument) (*domain.Analysis, error) {
	return c.inner.AnalyzeInstrument(ctx, inst)
}

// FetchHistory serves a fresh cached series when one exists.
func (c *CachedAnalyzer) FetchHistory(ctx context.Context, inst domain.Instrument, r domain.TimeRange) ([]domain.PricePoint, error) {
	if c.history == nil || c.historyTTL <= 0 {
		return c.inner.FetchHistory(ctx, inst, r)
	}

	points, ok, err := c.history.ReadHistory(ctx, inst.Market, inst.Symbol, r, c.historyTTL)
	if err != nil {
		c.log.Warn("reading history cache", "symbol", inst.Symbol, "range", r, "error", err)
	}
	if ok {
		return points, nil
	}

	points, err = c.inner.FetchHistory(ctx, inst, r)
	if err != nil {
		return points, err
	}
	if err := c.history.WriteHistory(ctx, inst.Market, inst.Symbol, r, points); err != nil {
		c.log.Warn("writing history cache", "symbol", inst.Symbol, "range", r, "error", err)
	}
	return points, nil
}

// MarketOverview serves a fresh cached overview when one exists.
func (c *CachedAnalyzer) MarketOverview(ctx context.Context, r domain.TimeRange) ([]domain.MarketSentiment, error) {
	if c.blobs == nil || c.marketTTL <= 0 {
		return c.inner.MarketOverview(ctx, r)
	}

	key := string(r)
	if data, ok, err := c.blobs.Get(ctx, store.NamespaceMarket, key); err != nil {
		c.log.Warn("reading market cache", "range", r, "error", err)
	} else if ok {
		var cached cachedOverview
		if err := json.Unmarshal(data, &cached); err == nil && c.now().Sub(cached.FetchedAt) < c.marketTTL {
			return cached.Markets, nil
		}
	}

	markets, err := c.inner.MarketOverview(ctx, r)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cachedOverview{FetchedAt: c.now(), Markets: markets})
	if err == nil {
		err = c.blobs.Put(ctx, store.NamespaceMarket, key, data)
	}
	if err != nil {
		c.log.Warn("writing market cache", "range", r, "error", err)
	}
	return markets, nil
}
