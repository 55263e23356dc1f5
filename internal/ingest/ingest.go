// Package ingest implements C2, the Token Ingestor: per-chain trending
// fan-out, normalization, the safety gate, and seed-token bookkeeping.
package ingest

import (
	"context"
	"time"

	"github.com/confluence-watch/internal/adapter"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/scheduler"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

// TokenStore is the subset of TokenRepository this job needs.
type TokenStore interface {
	Upsert(ctx context.Context, token *models.Token) error
	InsertSeedToken(ctx context.Context, seed *models.SeedToken) error
}

// Job runs C2 once per T_ingest tick: for every enabled chain, fan out
// over that chain's registered TrendingSources, union and normalize the
// results, apply the safety gate, and persist accepted tokens.
type Job struct {
	registry *adapter.Registry
	tokens   TokenStore
	safety   config.SafetyGateConfig
	chains   []types.ChainID
	poolSize int
}

func NewJob(registry *adapter.Registry, tokens TokenStore, safety config.SafetyGateConfig, chains []types.ChainID, poolSize int) *Job {
	return &Job{registry: registry, tokens: tokens, safety: safety, chains: chains, poolSize: poolSize}
}

func (j *Job) Name() string { return "ingest" }

func (j *Job) Run(ctx context.Context) error {
	return scheduler.RunPool(ctx, j.poolSize, j.chains, func(ctx context.Context, chain types.ChainID) error {
		j.runChain(ctx, chain)
		return nil // per-chain failures are isolated, never abort the tick
	})
}

func (j *Job) runChain(ctx context.Context, chain types.ChainID) {
	now := time.Now()
	union := make(map[string]adapter.TokenSnapshot)
	sources := make(map[string][]string) // addr -> distinct sources that reported it

	for _, src := range j.registry.TrendingSources(chain) {
		snapshots, err := src.FetchTrending(ctx, chain)
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"chain":  chain,
				"source": src.Name(),
			}).WithError(err).Warn("ingest: trending source failed, continuing with remaining sources")
			continue
		}
		for _, snap := range snapshots {
			addr := types.NormalizeAddress(chain, snap.Address)
			union[addr] = snap
			if s := sources[addr]; len(s) == 0 || s[len(s)-1] != src.Name() {
				sources[addr] = append(sources[addr], src.Name())
			}
		}
	}

	for addr, snap := range union {
		j.processToken(ctx, chain, addr, snap, sources[addr], now)
	}
}

// processToken upserts the Token once, then appends one SeedToken row per
// distinct source that reported it this tick (spec §4.2: "one SeedToken
// row per (source, token)") — never more than one per source.
func (j *Job) processToken(ctx context.Context, chain types.ChainID, addr string, snap adapter.TokenSnapshot, reportedBy []string, now time.Time) {
	if j.safety.IsExcluded(addr) {
		logging.Debugf("ingest: %s/%s excluded by stablecoin/wrapped-native list", chain, addr)
		return
	}

	safetySrc, hasSafety := j.registry.SafetySource(chain)
	var taxBuy, taxSell float64
	var honeypot bool
	if hasSafety {
		result, err := safetySrc.SafetyCheck(ctx, chain, addr)
		if err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "token": addr}).
				WithError(err).Warn("ingest: safety check failed, treating as unknown (not rejected)")
		} else {
			taxBuy, taxSell, honeypot = result.TaxBuyPct, result.TaxSellPct, result.IsHoneypot
		}
	}

	if rejectReason, rejected := j.rejected(snap, taxBuy, taxSell, honeypot); rejected {
		logging.WithFields(map[string]interface{}{
			"chain":  chain,
			"token":  addr,
			"reason": rejectReason,
		}).Debug("ingest: token rejected by safety gate")
		return
	}

	token := &models.Token{
		ChainID:        chain,
		Address:        addr,
		Symbol:         snap.Symbol,
		LiquidityUSD:   snap.LiquidityUSD,
		Volume24hUSD:   snap.Volume24hUSD,
		LastPriceUSD:   snap.PriceUSD,
		TaxBuyPct:      taxBuy,
		TaxSellPct:     taxSell,
		IsHoneypot:     honeypot,
		FirstSeenAt:    now,
		LastObservedAt: now,
	}
	if err := j.tokens.Upsert(ctx, token); err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "token": addr}).
			WithError(err).Error("ingest: failed to upsert token")
		return
	}

	for _, source := range reportedBy {
		seed := &models.SeedToken{ChainID: chain, Address: addr, Source: source, SnapshotTS: now}
		if err := j.tokens.InsertSeedToken(ctx, seed); err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "token": addr, "source": source}).
				WithError(err).Error("ingest: failed to insert seed token")
		}
	}
}

// rejected applies the safety gate of spec §4.2: minimum liquidity,
// minimum 24h volume, maximum buy/sell tax, and honeypot exclusion.
func (j *Job) rejected(snap adapter.TokenSnapshot, taxBuy, taxSell float64, honeypot bool) (string, bool) {
	switch {
	case honeypot:
		return "honeypot", true
	case snap.LiquidityUSD < j.safety.MinLiquidityUSD:
		return "liquidity_below_min", true
	case snap.Volume24hUSD < j.safety.MinVolume24hUSD:
		return "volume_below_min", true
	case taxBuy > j.safety.MaxTaxPct || taxSell > j.safety.MaxTaxPct:
		return "tax_above_max", true
	default:
		return "", false
	}
}

var _ TokenStore = (*storage.TokenRepository)(nil)
