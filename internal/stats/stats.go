// Package stats implements C6, the Stats Roller: a full, from-scratch
// recomputation of each wallet's 30-day trailing statistics.
package stats

import (
	"context"
	"time"

	"github.com/confluence-watch/internal/analytics"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/price"
	"github.com/confluence-watch/internal/scheduler"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

const windowDays = 30.0

// TradeReader is the subset of TradeRepository this job needs.
type TradeReader interface {
	ForWallet(ctx context.Context, chain types.ChainID, wallet string, sinceDays int) ([]models.Trade, error)
	ActiveWallets(ctx context.Context, chain types.ChainID, sinceDays int) ([]string, error)
	TokenBuyerRank(ctx context.Context, chain types.ChainID, token, wallet string) (rank int, total int, ok bool, err error)
}

// StatsWriter is the subset of WalletStatsRepository this job needs.
type StatsWriter interface {
	Upsert(ctx context.Context, s *models.WalletStats30D) error
}

// WalletLabeler lets the job flag a wallet "bot" once BotHeuristics
// trips, matching C5's label-mutation contract (models.Wallet.Labels).
type WalletLabeler interface {
	SetLabels(ctx context.Context, chain types.ChainID, address string, labels []string) error
}

// Job runs C6 once per T_stats tick: recompute WalletStats30D for every
// wallet observed in the last 30 days, in full, never incrementally.
type Job struct {
	tradeLog TradeReader
	statsOut StatsWriter
	labeler  WalletLabeler
	enricher *price.Enricher
	chains   []types.ChainID
	poolSize int
}

func NewJob(tradeLog TradeReader, statsOut StatsWriter, labeler WalletLabeler, enricher *price.Enricher, chains []types.ChainID, poolSize int) *Job {
	return &Job{tradeLog: tradeLog, statsOut: statsOut, labeler: labeler, enricher: enricher, chains: chains, poolSize: poolSize}
}

func (j *Job) Name() string { return "stats" }

func (j *Job) Run(ctx context.Context) error {
	return scheduler.RunPool(ctx, j.poolSize, j.chains, func(ctx context.Context, chain types.ChainID) error {
		j.runChain(ctx, chain)
		return nil
	})
}

func (j *Job) runChain(ctx context.Context, chain types.ChainID) {
	wallets, err := j.tradeLog.ActiveWallets(ctx, chain, 30)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain}).WithError(err).Error("stats: failed to list active wallets")
		return
	}

	_ = scheduler.RunPool(ctx, j.poolSize, wallets, func(ctx context.Context, wallet string) error {
		j.recompute(ctx, chain, wallet)
		return nil
	})
}

func (j *Job) recompute(ctx context.Context, chain types.ChainID, wallet string) {
	trades, err := j.tradeLog.ForWallet(ctx, chain, wallet, 30)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "wallet": wallet}).WithError(err).Error("stats: failed to load trade history")
		return
	}
	if len(trades) == 0 {
		return
	}

	now := time.Now()
	priceLookup := func(token string) (float64, bool) {
		usd, err := j.enricher.PriceOf(ctx, chain, token)
		if err != nil {
			return 0, false
		}
		return usd, true
	}

	pnl := analytics.FIFO(trades, priceLookup)
	botFlags := analytics.BotHeuristics(trades, windowDays)

	last7d := splitByAge(trades, now, 7*24*time.Hour)
	prior23d := splitByAge(trades, now, 30*24*time.Hour)
	last7Pnl := analytics.FIFO(last7d, priceLookup).RealizedPnLUSD
	prior23Pnl := analytics.FIFO(subtractTrades(prior23d, last7d), priceLookup).RealizedPnLUSD
	prior23Avg := 0.0
	if days := 23.0; days > 0 {
		prior23Avg = prior23Pnl / days
	}

	earlyScores := j.earlyScoresFor(ctx, chain, wallet, trades)

	s := &models.WalletStats30D{
		Wallet:            wallet,
		ChainID:           chain,
		TradeCount30D:     len(trades),
		RealizedPnLUSD:    pnl.RealizedPnLUSD,
		UnrealizedPnLUSD:  pnl.UnrealizedPnLUSD,
		BestTradeMultiple: pnl.BestMultiple,
		EarlyScoreMedian:  analytics.MedianEarlyScore(earlyScores),
		Last7DPnLUSD:      last7Pnl,
		Prior23DAvgPnLUSD: prior23Avg,
		IsBot:             botFlags.IsBot,
		UpdatedAt:         now,
	}

	if err := j.statsOut.Upsert(ctx, s); err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain, "wallet": wallet}).WithError(err).Error("stats: failed to upsert wallet stats")
		return
	}

	if botFlags.IsBot && j.labeler != nil {
		if err := j.labeler.SetLabels(ctx, chain, wallet, []string{"bot"}); err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "wallet": wallet}).WithError(err).Warn("stats: failed to set bot label")
		}
	}
}

// splitByAge returns the subset of trades younger than maxAge relative
// to now.
func splitByAge(trades []models.Trade, now time.Time, maxAge time.Duration) []models.Trade {
	cutoff := now.Add(-maxAge)
	var out []models.Trade
	for _, t := range trades {
		if t.Timestamp.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// subtractTrades returns a minus the trades also present in b, by
// tx_hash, used to isolate the 23-day window prior to the trailing 7
// days from the 30-day set.
func subtractTrades(a, b []models.Trade) []models.Trade {
	exclude := make(map[string]bool, len(b))
	for _, t := range b {
		exclude[t.TxHash] = true
	}
	var out []models.Trade
	for _, t := range a {
		if !exclude[t.TxHash] {
			out = append(out, t)
		}
	}
	return out
}

// earlyScoresFor computes a per-buy Being-Early score using the wallet's
// true cross-wallet rank among every observed buyer of that token
// (spec §4.5's rank_pct), falling back to the same-wallet buy-order
// index only if the buyer-rank lookup fails. MCapAtBuy and
// Token24hVolumeUSD come from the liquidity/volume snapshot C3/C8
// record on the trade at buy time.
func (j *Job) earlyScoresFor(ctx context.Context, chain types.ChainID, wallet string, trades []models.Trade) []float64 {
	sorted := analytics.SortTrades(trades)
	var buys []models.Trade
	for _, t := range sorted {
		if t.Side == types.SideBuy {
			buys = append(buys, t)
		}
	}
	if len(buys) == 0 {
		return nil
	}

	scores := make([]float64, 0, len(buys))
	for i, b := range buys {
		rankPct := float64(i) / float64(len(buys))
		if rank, total, ok, err := j.tradeLog.TokenBuyerRank(ctx, chain, b.Token, wallet); err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "wallet": wallet, "token": b.Token}).
				WithError(err).Debug("stats: token buyer rank lookup failed, falling back to same-wallet rank")
		} else if ok && total > 0 {
			rankPct = float64(rank) / float64(total)
		}

		scores = append(scores, analytics.EarlyScore(analytics.EarlyScoreInput{
			RankPct:           rankPct,
			MCapAtBuy:         analytics.MarketCapProxy(b.LiquidityAtBuyUSD),
			BuyValueUSD:       b.ValueUSD,
			Token24hVolumeUSD: b.Token24hVolumeAtBuyUSD,
		}))
	}
	return scores
}

var (
	_ TradeReader   = (*storage.TradeRepository)(nil)
	_ StatsWriter   = (*storage.WalletStatsRepository)(nil)
	_ WalletLabeler = (*storage.WalletRepository)(nil)
)
