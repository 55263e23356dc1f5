// Package monitor implements C8, the Wallet Monitor: bidirectional
// transfer fetches for watchlisted wallets, reusing C3's DEX-pool
// heuristic, then synchronous confluence evaluation.
package monitor

import (
	"context"

	"github.com/confluence-watch/internal/adapter"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/confluence"
	"github.com/confluence-watch/internal/discovery"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/scheduler"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

// WatchlistSource is the subset of WatchlistRepository this job needs.
type WatchlistSource interface {
	ListActive(ctx context.Context, chain types.ChainID) ([]models.WatchlistEntry, error)
}

// TradeStore is the subset of TradeRepository this job needs.
type TradeStore interface {
	InsertIfNew(ctx context.Context, t *models.Trade) (inserted bool, err error)
}

// TokenStore is the subset of TokenRepository this job needs.
type TokenStore interface {
	Get(ctx context.Context, chain types.ChainID, address string) (*models.Token, error)
}

// Job runs C8 once per T_monitor tick.
type Job struct {
	registry   *adapter.Registry
	watchlist  WatchlistSource
	trades     TradeStore
	tokens     TokenStore
	detector   *confluence.Detector
	safety     config.SafetyGateConfig
	chains     []types.ChainID
	poolSendTh int
	poolSize   int
}

func NewJob(registry *adapter.Registry, watchlist WatchlistSource, trades TradeStore, tokens TokenStore, detector *confluence.Detector, safety config.SafetyGateConfig, chains []types.ChainID, poolSendThreshold, poolSize int) *Job {
	return &Job{registry: registry, watchlist: watchlist, trades: trades, tokens: tokens, detector: detector, safety: safety, chains: chains, poolSendTh: poolSendThreshold, poolSize: poolSize}
}

func (j *Job) Name() string { return "monitor" }

func (j *Job) Run(ctx context.Context) error {
	return scheduler.RunPool(ctx, j.poolSize, j.chains, func(ctx context.Context, chain types.ChainID) error {
		j.runChain(ctx, chain)
		return nil
	})
}

func (j *Job) runChain(ctx context.Context, chain types.ChainID) {
	entries, err := j.watchlist.ListActive(ctx, chain)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain}).WithError(err).Error("monitor: failed to list active watchlist entries")
		return
	}
	sources := j.registry.TransferSources(chain)
	if len(sources) == 0 || len(entries) == 0 {
		return
	}
	src := sources[0]

	_ = scheduler.RunPool(ctx, j.poolSize, entries, func(ctx context.Context, entry models.WatchlistEntry) error {
		j.monitorWallet(ctx, chain, entry.Wallet, src)
		return nil
	})
}

func (j *Job) monitorWallet(ctx context.Context, chain types.ChainID, wallet string, src adapter.TransferSource) {
	current, err := src.CurrentBlock(ctx, chain)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "wallet": wallet}).WithError(err).Warn("monitor: failed to fetch current block")
		return
	}

	var transfers []adapter.Transfer
	for _, dir := range []types.Direction{types.DirectionIn, types.DirectionOut} {
		fetched, err := src.FetchWalletTransfers(ctx, chain, wallet, dir, 0, 0)
		if err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "wallet": wallet, "direction": dir}).
				WithError(err).Warn("monitor: failed to fetch wallet transfers, skipping direction this tick")
			continue
		}
		transfers = append(transfers, fetched...)
	}
	if len(transfers) == 0 {
		return
	}

	byToken := make(map[string][]adapter.Transfer)
	for _, tr := range transfers {
		byToken[tr.Token] = append(byToken[tr.Token], tr)
	}

	for token, tokenTransfers := range byToken {
		if j.safety.IsExcluded(token) {
			continue
		}
		pools := discovery.ClassifyPools(tokenTransfers, j.poolSendTh)
		for _, tr := range tokenTransfers {
			trade, ok := discovery.ClassifyTrade(chain, token, tr, pools)
			if !ok || trade.Wallet != wallet {
				continue
			}
			j.recordAndEvaluate(ctx, chain, trade)
		}
	}

	_ = current // current block is unused; FetchWalletTransfers is called from block 0 each tick, so the full history is refetched
}

func (j *Job) recordAndEvaluate(ctx context.Context, chain types.ChainID, trade models.Trade) {
	if trade.Side == types.SideBuy {
		if tok, err := j.tokens.Get(ctx, chain, trade.Token); err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "token": trade.Token}).WithError(err).Debug("monitor: token lookup failed, recording buy without mcap/volume snapshot")
		} else if tok != nil {
			trade.LiquidityAtBuyUSD = tok.LiquidityUSD
			trade.Token24hVolumeAtBuyUSD = tok.Volume24hUSD
		}
	}

	inserted, err := j.trades.InsertIfNew(ctx, &trade)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "tx": trade.TxHash}).WithError(err).Error("monitor: failed to insert trade")
		return
	}
	if !inserted {
		return
	}

	result := j.detector.RecordAndEvaluate(ctx, chain, trade.Side, trade.Token, trade.Wallet, trade.Timestamp)
	if !result.Possible {
		logging.WithFields(map[string]interface{}{"chain": chain, "token": trade.Token}).Warn("monitor: confluence store unreachable this tick")
	}
}

var (
	_ WatchlistSource = (*storage.WatchlistRepository)(nil)
	_ TradeStore      = (*storage.TradeRepository)(nil)
	_ TokenStore      = (*storage.TokenRepository)(nil)
)
