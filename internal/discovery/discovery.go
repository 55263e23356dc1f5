// Package discovery implements C3, the Wallet Discoverer: it walks
// recent transfers for seed tokens, classifies participants as pool
// addresses or trading wallets via the DEX-pool heuristic, and records
// the resulting trades.
package discovery

import (
	"context"
	"time"

	"github.com/confluence-watch/internal/adapter"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/price"
	"github.com/confluence-watch/internal/scheduler"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

// SeedTokenStore is the subset of TokenRepository this job needs.
type SeedTokenStore interface {
	RecentSeedTokens(ctx context.Context, chain types.ChainID, lookbackHours int) ([]models.SeedToken, error)
	Get(ctx context.Context, chain types.ChainID, address string) (*models.Token, error)
}

// WalletStore is the subset of WalletRepository this job needs.
type WalletStore interface {
	UpsertFirstSeen(ctx context.Context, chain types.ChainID, address string) error
}

// TradeStore is the subset of TradeRepository this job needs.
type TradeStore interface {
	InsertIfNew(ctx context.Context, t *models.Trade) (inserted bool, err error)
}

// Job runs C3 once per T_discover tick.
type Job struct {
	registry       *adapter.Registry
	seedTokens     SeedTokenStore
	wallets        WalletStore
	trades         TradeStore
	enricher       *price.Enricher
	chains         []types.ChainID
	chainCfg       config.ChainsConfig
	lookbackHours  int
	poolSendThresh int
	poolSize       int
}

func NewJob(
	registry *adapter.Registry,
	seedTokens SeedTokenStore,
	wallets WalletStore,
	trades TradeStore,
	enricher *price.Enricher,
	chains []types.ChainID,
	chainCfg config.ChainsConfig,
	lookbackHours int,
	poolSendThreshold int,
	poolSize int,
) *Job {
	return &Job{
		registry: registry, seedTokens: seedTokens, wallets: wallets, trades: trades,
		enricher: enricher, chains: chains, chainCfg: chainCfg,
		lookbackHours: lookbackHours, poolSendThresh: poolSendThreshold, poolSize: poolSize,
	}
}

func (j *Job) Name() string { return "discovery" }

func (j *Job) Run(ctx context.Context) error {
	return scheduler.RunPool(ctx, j.poolSize, j.chains, func(ctx context.Context, chain types.ChainID) error {
		j.runChain(ctx, chain)
		return nil
	})
}

func (j *Job) runChain(ctx context.Context, chain types.ChainID) {
	seeds, err := j.seedTokens.RecentSeedTokens(ctx, chain, j.lookbackHours)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain}).WithError(err).Error("discovery: failed to list recent seed tokens")
		return
	}

	sources := j.registry.TransferSources(chain)
	if len(sources) == 0 {
		return
	}
	blockRange := uint64(2000)
	if cc, ok := j.chainCfg.Chains[string(chain)]; ok && cc.TransferBlockRange > 0 {
		blockRange = uint64(cc.TransferBlockRange)
	}

	_ = scheduler.RunPool(ctx, j.poolSize, seeds, func(ctx context.Context, seed models.SeedToken) error {
		j.discoverToken(ctx, chain, seed.Address, sources[0], blockRange)
		return nil
	})
}

func (j *Job) discoverToken(ctx context.Context, chain types.ChainID, token string, src adapter.TransferSource, blockRange uint64) {
	current, err := src.CurrentBlock(ctx, chain)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "token": token}).WithError(err).Warn("discovery: failed to fetch current block")
		return
	}
	from := uint64(0)
	if current > blockRange {
		from = current - blockRange
	}

	transfers, err := src.FetchTokenTransfers(ctx, chain, token, from, current, 0)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "token": token}).WithError(err).Warn("discovery: failed to fetch token transfers")
		return
	}
	if len(transfers) == 0 {
		return
	}

	pools := ClassifyPools(transfers, j.poolSendThresh)

	for _, tr := range transfers {
		trade, ok := ClassifyTrade(chain, token, tr, pools)
		if !ok {
			continue
		}
		j.recordTrade(ctx, chain, trade)
	}
}

func (j *Job) recordTrade(ctx context.Context, chain types.ChainID, trade models.Trade) {
	if err := j.wallets.UpsertFirstSeen(ctx, chain, trade.Wallet); err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "wallet": trade.Wallet}).WithError(err).Error("discovery: failed to upsert wallet")
		return
	}

	if trade.UnitPriceUSD == 0 {
		usd, err := j.enricher.PriceOf(ctx, chain, trade.Token)
		if err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "token": trade.Token}).WithError(err).Debug("discovery: price enrichment missed, recording trade with zero price")
		} else {
			trade.UnitPriceUSD = usd
			trade.ValueUSD = trade.Quantity * usd
		}
	}

	if trade.Side == types.SideBuy {
		if tok, err := j.seedTokens.Get(ctx, chain, trade.Token); err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "token": trade.Token}).WithError(err).Debug("discovery: token lookup failed, recording buy without mcap/volume snapshot")
		} else if tok != nil {
			trade.LiquidityAtBuyUSD = tok.LiquidityUSD
			trade.Token24hVolumeAtBuyUSD = tok.Volume24hUSD
		}
	}

	inserted, err := j.trades.InsertIfNew(ctx, &trade)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "tx": trade.TxHash}).WithError(err).Error("discovery: failed to insert trade")
		return
	}
	if !inserted {
		logging.Debugf("discovery: trade %s already recorded, skipping", trade.TxHash)
	}
}

// poolSet is the set of addresses classified as DEX pools within one
// discovery pass.
type poolSet map[string]bool

// ClassifyPools implements the DEX-pool heuristic of spec §4.3: tally
// each address's distinct outgoing-transfer count within the batch, and
// classify any address sending strictly more than poolSendThreshold
// times as a pool ("more than a small threshold (default > 2 in-window)").
func ClassifyPools(transfers []adapter.Transfer, poolSendThreshold int) poolSet {
	sent := make(map[string]int)
	for _, tr := range transfers {
		sent[tr.From]++
	}
	pools := make(poolSet)
	for addr, count := range sent {
		if count > poolSendThreshold {
			pools[addr] = true
		}
	}
	return pools
}

// ClassifyTrade converts one raw transfer into a Trade if exactly one
// side of it is a pool address: transfer-from-pool is a buy, transfer-
// to-pool is a sell. Pool-to-pool and wallet-to-wallet transfers are
// discarded (spec §4.3 "discard the rest").
func ClassifyTrade(chain types.ChainID, token string, tr adapter.Transfer, pools poolSet) (models.Trade, bool) {
	fromPool := pools[tr.From]
	toPool := pools[tr.To]

	var side types.Side
	var wallet string
	switch {
	case fromPool && !toPool:
		side = types.SideBuy
		wallet = tr.To
	case toPool && !fromPool:
		side = types.SideSell
		wallet = tr.From
	default:
		return models.Trade{}, false
	}

	ts := tr.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return models.Trade{
		TxHash:    tr.TxHash,
		ChainID:   chain,
		Timestamp: ts,
		Wallet:    types.NormalizeAddress(chain, wallet),
		Token:     types.NormalizeAddress(chain, token),
		Side:      side,
		Quantity:  tr.Quantity,
		Venue:     tr.Venue,
	}, true
}

var _ SeedTokenStore = (*storage.TokenRepository)(nil)
var _ WalletStore = (*storage.WalletRepository)(nil)
var _ TradeStore = (*storage.TradeRepository)(nil)
