// Package price implements C4, the Price Enricher: multi-source USD
// pricing with a process-local cache, an optional shared Redis mirror,
// and a last-trade-price fallback.
package price

import (
	"context"
	"sync"
	"time"

	"github.com/confluence-watch/internal/adapter"
	pipelineerrors "github.com/confluence-watch/internal/errors"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

// LatestPriceLookup is implemented by the trade storage layer so
// Enricher can fall back to the most recent observed trade price without
// importing the storage repository types directly (avoids an import
// cycle: storage does not need to know about price.Enricher).
type LatestPriceLookup interface {
	LatestPrice(ctx context.Context, chain types.ChainID, token string) (float64, bool, error)
}

type cacheEntry struct {
	usd       float64
	expiresAt time.Time
}

// Enricher implements priceOf(chain, token) with this fallback chain: a
// process-local cache, then a Redis mirror so multiple process instances
// share hits, then the ordered PriceSources (a hit is stored in both
// caches), then the most recent Trade price. A full miss is PriceMissing,
// never a fabricated price.
type Enricher struct {
	registry   *adapter.Registry
	cache      *storage.CacheService
	latest     LatestPriceLookup
	ttl        time.Duration
	mu         sync.RWMutex
	localCache map[string]cacheEntry
}

// NewEnricher builds an Enricher. cache and latest may be nil in tests
// that only exercise the in-process cache and adapter fallback.
func NewEnricher(registry *adapter.Registry, cache *storage.CacheService, latest LatestPriceLookup, ttl time.Duration) *Enricher {
	return &Enricher{
		registry:   registry,
		cache:      cache,
		latest:     latest,
		ttl:        ttl,
		localCache: make(map[string]cacheEntry),
	}
}

func localKey(chain types.ChainID, token string) string {
	return string(chain) + ":" + token
}

// PriceOf returns the current USD price for (chain, token). Callers that
// receive a PriceMissing error must treat the affected lot's unrealized
// PnL contribution as 0, never as fabricated profit.
func (e *Enricher) PriceOf(ctx context.Context, chain types.ChainID, token string) (float64, error) {
	token = types.NormalizeAddress(chain, token)

	if usd, ok := e.fromLocalCache(chain, token); ok {
		return usd, nil
	}

	if e.cache != nil {
		var cached storage.CachedPrice
		key := e.cache.GeneratePriceKey(string(chain), token)
		hit, err := e.cache.Get(ctx, key, &cached)
		if err == nil && hit {
			e.storeLocalCache(chain, token, cached.USD)
			return cached.USD, nil
		}
	}

	for _, src := range e.registry.PriceSources() {
		usd, ok, err := src.PriceOf(ctx, chain, token)
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"source": src.Name(),
				"chain":  chain,
				"token":  token,
			}).WithError(err).Debug("price source failed, trying next")
			continue
		}
		if !ok {
			continue
		}

		e.storeLocalCache(chain, token, usd)
		if e.cache != nil {
			_ = e.cache.SetWithTTL(ctx, e.cache.GeneratePriceKey(string(chain), token), storage.CachedPrice{
				Chain: string(chain), Token: token, USD: usd, CachedAt: time.Now(),
			}, e.ttl)
		}
		return usd, nil
	}

	if e.latest != nil {
		usd, ok, err := e.latest.LatestPrice(ctx, chain, token)
		if err == nil && ok {
			return usd, nil
		}
	}

	return 0, pipelineerrors.NewPriceMissing("price.PriceOf")
}

func (e *Enricher) fromLocalCache(chain types.ChainID, token string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.localCache[localKey(chain, token)]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.usd, true
}

func (e *Enricher) storeLocalCache(chain types.ChainID, token string, usd float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localCache[localKey(chain, token)] = cacheEntry{usd: usd, expiresAt: time.Now().Add(e.ttl)}
}
