// Package watchlist implements C7, the Watchlist Maintainer: percentile
// ranking over wallet stats, composite scoring, and add/remove
// lifecycle management.
package watchlist

import (
	"context"
	"sort"
	"time"

	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/confluence"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

// StatsLister is the subset of WalletStatsRepository this job needs.
type StatsLister interface {
	ListByChain(ctx context.Context, chain types.ChainID) ([]models.WalletStats30D, error)
}

// EntryStore is the subset of WatchlistRepository this job needs.
type EntryStore interface {
	Upsert(ctx context.Context, e *models.WatchlistEntry) error
	SetStatus(ctx context.Context, chain types.ChainID, wallet string, status types.WatchlistStatus) error
	ListAll(ctx context.Context, chain types.ChainID) ([]models.WatchlistEntry, error)
}

// ActiveWindowChecker is the subset of confluence.Detector this job
// needs, to avoid removing a wallet mid active confluence window.
type ActiveWindowChecker interface {
	ActiveWindow(ctx context.Context, chain types.ChainID, wallet string) (bool, error)
}

// Maintainer runs C7 once per day: percentile-rank every wallet's 30-day
// stats, compute a composite score, and apply the add/remove rules of
// spec §4.7.
type Maintainer struct {
	stats       StatsLister
	entries     EntryStore
	activeCheck ActiveWindowChecker
	cfg         config.WatchlistConfig
	chains      []types.ChainID
}

func NewMaintainer(stats StatsLister, entries EntryStore, activeCheck ActiveWindowChecker, cfg config.WatchlistConfig, chains []types.ChainID) *Maintainer {
	return &Maintainer{stats: stats, entries: entries, activeCheck: activeCheck, cfg: cfg, chains: chains}
}

func (m *Maintainer) Name() string { return "watchlist" }

func (m *Maintainer) Run(ctx context.Context) error {
	for _, chain := range m.chains {
		m.runChain(ctx, chain)
	}
	return nil
}

func (m *Maintainer) runChain(ctx context.Context, chain types.ChainID) {
	rows, err := m.stats.ListByChain(ctx, chain)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain}).WithError(err).Error("watchlist: failed to list wallet stats")
		return
	}
	rows = excludeBots(rows)
	if len(rows) == 0 {
		return
	}

	existing, err := m.entries.ListAll(ctx, chain)
	if err != nil {
		logging.WithFields(map[string]interface{}{"chain": chain}).WithError(err).Error("watchlist: failed to list existing entries")
		return
	}
	existingByWallet := make(map[string]models.WatchlistEntry, len(existing))
	for _, e := range existing {
		existingByWallet[e.Wallet] = e
	}

	weights := m.cfg.Weights
	if m.cfg.AdaptiveWeightsEnabled {
		weights = AdjustWeights(weights, retainedDimensionRanks(rows, existingByWallet))
	}
	scores := CompositeScores(rows, weights)

	now := time.Now()
	topN := topNSet(scores, m.cfg.TopN)

	for _, row := range rows {
		score := scores[row.Wallet]
		prior, existed := existingByWallet[row.Wallet]

		switch {
		case m.shouldRemove(ctx, chain, row, prior, existed, topN):
			if err := m.entries.SetStatus(ctx, chain, row.Wallet, types.WatchlistRemoved); err != nil {
				logging.WithFields(map[string]interface{}{"chain": chain, "wallet": row.Wallet}).WithError(err).Error("watchlist: failed to remove entry")
			}
		case m.shouldAdd(row, existed && prior.Status != types.WatchlistRemoved, topN):
			entry := &models.WatchlistEntry{
				Wallet:         row.Wallet,
				ChainID:        chain,
				CompositeScore: score,
				Status:         types.WatchlistActive,
				AddedAt:        now,
				LastEvaluated:  now,
				AlwaysWatch:    prior.AlwaysWatch,
				WeightsUsed: map[string]float64{
					"pnl": weights.PnL, "activity": weights.Activity, "early": weights.Early,
				},
			}
			if existed {
				entry.AddedAt = prior.AddedAt
			}
			if err := m.entries.Upsert(ctx, entry); err != nil {
				logging.WithFields(map[string]interface{}{"chain": chain, "wallet": row.Wallet}).WithError(err).Error("watchlist: failed to upsert entry")
			}
		case existed:
			prior.CompositeScore = score
			prior.LastEvaluated = now
			if err := m.entries.Upsert(ctx, &prior); err != nil {
				logging.WithFields(map[string]interface{}{"chain": chain, "wallet": row.Wallet}).WithError(err).Error("watchlist: failed to refresh entry score")
			}
		}
	}
}

// shouldAdd applies spec §4.7's add rule: enough trades, best multiple
// at or above threshold, not currently on the watchlist (a removed entry
// can qualify again), and within the current top-N by composite score.
func (m *Maintainer) shouldAdd(row models.WalletStats30D, existed bool, topN map[string]bool) bool {
	if existed {
		return false
	}
	if row.TradeCount30D < m.cfg.AddMinTrades {
		return false
	}
	if row.BestTradeMultiple < m.cfg.AddMinMultiple {
		return false
	}
	return topN[row.Wallet]
}

// shouldRemove applies spec §4.7's remove rule: an already-active entry
// for which any of these holds — unrealized PnL below the negative
// threshold, zero trades in the window, early-score median below its
// floor, best multiple below its floor, or last-7-day PnL under half the
// prior 23-day daily average — and which is not under AlwaysWatch
// override or mid an active confluence window.
func (m *Maintainer) shouldRemove(ctx context.Context, chain types.ChainID, row models.WalletStats30D, prior models.WatchlistEntry, existed bool, topN map[string]bool) bool {
	if !existed || prior.Status != types.WatchlistActive || prior.AlwaysWatch {
		return false
	}

	failingPnL := row.UnrealizedPnLUSD < m.cfg.RemoveNegPnLThreshold
	failingQuality := row.TradeCount30D == 0 ||
		row.EarlyScoreMedian < m.cfg.RemoveMinEarlyMedian ||
		row.BestTradeMultiple < m.cfg.RemoveMinMultiple ||
		row.Last7DPnLUSD < 0.5*row.Prior23DAvgPnLUSD
	if !failingPnL && !failingQuality {
		return false
	}

	if m.activeCheck != nil {
		active, err := m.activeCheck.ActiveWindow(ctx, chain, row.Wallet)
		if err != nil {
			logging.WithFields(map[string]interface{}{"chain": chain, "wallet": row.Wallet}).WithError(err).Warn("watchlist: failed to check active confluence window, deferring removal")
			return false
		}
		if active {
			return false
		}
	}
	return true
}

// CompositeScores computes S = PnL_rank*w_pnl + Activity_rank*w_activity
// + Early_rank*w_early per spec §4.7, where each term is the wallet's
// percentile rank within rows on that dimension.
func CompositeScores(rows []models.WalletStats30D, weights config.WatchlistWeights) map[string]float64 {
	pnlRanks := percentileRanks(rows, func(r models.WalletStats30D) float64 { return r.UnrealizedPnLUSD })
	activityRanks := percentileRanks(rows, func(r models.WalletStats30D) float64 { return float64(r.TradeCount30D) })
	earlyRanks := percentileRanks(rows, func(r models.WalletStats30D) float64 { return r.EarlyScoreMedian })

	scores := make(map[string]float64, len(rows))
	for _, row := range rows {
		scores[row.Wallet] = pnlRanks[row.Wallet]*weights.PnL +
			activityRanks[row.Wallet]*weights.Activity +
			earlyRanks[row.Wallet]*weights.Early
	}
	return scores
}

// percentileRanks returns, per wallet, its value's fraction-below rank
// in [0,1] under key. Ties share the rank of the lowest index among
// them (stable rank, not randomized).
func percentileRanks(rows []models.WalletStats30D, key func(models.WalletStats30D) float64) map[string]float64 {
	n := len(rows)
	ranks := make(map[string]float64, n)
	if n <= 1 {
		for _, r := range rows {
			ranks[r.Wallet] = 1
		}
		return ranks
	}

	sorted := make([]models.WalletStats30D, n)
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return key(sorted[i]) < key(sorted[j]) })

	first := 0
	for i, r := range sorted {
		if i > 0 && key(sorted[i-1]) != key(r) {
			first = i
		}
		ranks[r.Wallet] = float64(first) / float64(n-1)
	}
	return ranks
}

func topNSet(scores map[string]float64, n int) map[string]bool {
	type pair struct {
		wallet string
		score  float64
	}
	pairs := make([]pair, 0, len(scores))
	for w, s := range scores {
		pairs = append(pairs, pair{w, s})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	top := make(map[string]bool, n)
	for i := 0; i < len(pairs) && i < n; i++ {
		top[pairs[i].wallet] = true
	}
	return top
}

func excludeBots(rows []models.WalletStats30D) []models.WalletStats30D {
	out := make([]models.WalletStats30D, 0, len(rows))
	for _, r := range rows {
		if !r.IsBot {
			out = append(out, r)
		}
	}
	return out
}

// retainedDimensionRanks returns, for each scoring dimension, the
// average percentile rank (among rows) of wallets already active on the
// watchlist — the signal AdjustWeights uses to decide which dimension
// is best separating wallets worth keeping.
func retainedDimensionRanks(rows []models.WalletStats30D, existing map[string]models.WatchlistEntry) map[string]float64 {
	pnlRanks := percentileRanks(rows, func(r models.WalletStats30D) float64 { return r.UnrealizedPnLUSD })
	activityRanks := percentileRanks(rows, func(r models.WalletStats30D) float64 { return float64(r.TradeCount30D) })
	earlyRanks := percentileRanks(rows, func(r models.WalletStats30D) float64 { return r.EarlyScoreMedian })

	var pnlSum, activitySum, earlySum float64
	var n float64
	for _, r := range rows {
		e, ok := existing[r.Wallet]
		if !ok || e.Status != types.WatchlistActive {
			continue
		}
		pnlSum += pnlRanks[r.Wallet]
		activitySum += activityRanks[r.Wallet]
		earlySum += earlyRanks[r.Wallet]
		n++
	}
	if n == 0 {
		return nil
	}
	return map[string]float64{"pnl": pnlSum / n, "activity": activitySum / n, "early": earlySum / n}
}

// maxDailyWeightDelta bounds how far AdjustWeights can move any single
// weight in one day's run (spec §9 "Adaptive weights").
const maxDailyWeightDelta = 0.05

// AdjustWeights nudges prior toward favoring the dimension with the
// highest average percentile rank among currently-active entries
// (retainedRanks), under the theory that the dimension best separating
// winners from the removed should count for more. Each weight moves by
// at most maxDailyWeightDelta per call, then the result is renormalized
// to sum to 1. Only invoked when WATCHLIST_ADAPTIVE_WEIGHTS is enabled;
// the default (false) keeps prior unchanged across runs.
func AdjustWeights(prior config.WatchlistWeights, retainedRanks map[string]float64) config.WatchlistWeights {
	best := ""
	bestVal := -1.0
	for dim, v := range retainedRanks {
		if v > bestVal {
			best, bestVal = dim, v
		}
	}
	if best == "" {
		return prior
	}

	adjusted := prior
	switch best {
	case "pnl":
		adjusted.PnL += maxDailyWeightDelta
	case "activity":
		adjusted.Activity += maxDailyWeightDelta
	case "early":
		adjusted.Early += maxDailyWeightDelta
	}

	sum := adjusted.PnL + adjusted.Activity + adjusted.Early
	if sum <= 0 {
		return prior
	}
	adjusted.PnL /= sum
	adjusted.Activity /= sum
	adjusted.Early /= sum
	return adjusted
}

var (
	_ StatsLister         = (*storage.WalletStatsRepository)(nil)
	_ EntryStore          = (*storage.WatchlistRepository)(nil)
	_ ActiveWindowChecker = (*confluence.Detector)(nil)
)
