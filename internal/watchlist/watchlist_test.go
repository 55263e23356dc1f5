package watchlist

import (
	"context"
	"testing"
	"time"

	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeScores_BestWalletRanksHighest(t *testing.T) {
	rows := []models.WalletStats30D{
		{Wallet: "low", UnrealizedPnLUSD: 10, TradeCount30D: 1, EarlyScoreMedian: 5},
		{Wallet: "mid", UnrealizedPnLUSD: 100, TradeCount30D: 5, EarlyScoreMedian: 40},
		{Wallet: "high", UnrealizedPnLUSD: 1000, TradeCount30D: 10, EarlyScoreMedian: 80},
	}
	weights := config.WatchlistWeights{PnL: 0.4, Activity: 0.3, Early: 0.3}

	scores := CompositeScores(rows, weights)
	assert.Greater(t, scores["high"], scores["mid"])
	assert.Greater(t, scores["mid"], scores["low"])
}

type fakeStats struct{ rows []models.WalletStats30D }

func (f *fakeStats) ListByChain(ctx context.Context, chain types.ChainID) ([]models.WalletStats30D, error) {
	return f.rows, nil
}

type fakeEntries struct {
	entries map[string]*models.WatchlistEntry
}

func newFakeEntries() *fakeEntries { return &fakeEntries{entries: make(map[string]*models.WatchlistEntry)} }

func (f *fakeEntries) Upsert(ctx context.Context, e *models.WatchlistEntry) error {
	cp := *e
	f.entries[e.Wallet] = &cp
	return nil
}

func (f *fakeEntries) SetStatus(ctx context.Context, chain types.ChainID, wallet string, status types.WatchlistStatus) error {
	if e, ok := f.entries[wallet]; ok {
		e.Status = status
	}
	return nil
}

func (f *fakeEntries) ListAll(ctx context.Context, chain types.ChainID) ([]models.WatchlistEntry, error) {
	var out []models.WatchlistEntry
	for _, e := range f.entries {
		out = append(out, *e)
	}
	return out, nil
}

type alwaysInactive struct{}

func (alwaysInactive) ActiveWindow(ctx context.Context, chain types.ChainID, wallet string) (bool, error) {
	return false, nil
}

func TestMaintainer_AddsQualifyingWalletWithinTopN(t *testing.T) {
	rows := []models.WalletStats30D{
		{Wallet: "w1", UnrealizedPnLUSD: 5000, TradeCount30D: 10, BestTradeMultiple: 3, EarlyScoreMedian: 80},
	}
	stats := &fakeStats{rows: rows}
	entries := newFakeEntries()
	cfg := config.WatchlistConfig{
		TopN:           10,
		Weights:        config.WatchlistWeights{PnL: 0.3, Activity: 0.3, Early: 0.4},
		AddMinTrades:   1,
		AddMinMultiple: 1.0,
	}
	m := NewMaintainer(stats, entries, alwaysInactive{}, cfg, []types.ChainID{types.ChainEthereum})

	require.NoError(t, m.Run(context.Background()))

	entry, ok := entries.entries["w1"]
	require.True(t, ok)
	assert.Equal(t, types.WatchlistActive, entry.Status)
}

func TestMaintainer_RemovesFailingActiveEntry(t *testing.T) {
	rows := []models.WalletStats30D{
		{Wallet: "w1", UnrealizedPnLUSD: -500, TradeCount30D: 10, BestTradeMultiple: 0.5, EarlyScoreMedian: 5},
	}
	stats := &fakeStats{rows: rows}
	entries := newFakeEntries()
	entries.entries["w1"] = &models.WatchlistEntry{
		Wallet: "w1", Status: types.WatchlistActive, AddedAt: time.Now().Add(-24 * time.Hour),
	}
	cfg := config.WatchlistConfig{
		TopN:                  10,
		Weights:               config.WatchlistWeights{PnL: 0.3, Activity: 0.3, Early: 0.4},
		RemoveNegPnLThreshold: 0,
		RemoveMinEarlyMedian:  20,
		RemoveMinMultiple:     2.0,
	}
	m := NewMaintainer(stats, entries, alwaysInactive{}, cfg, []types.ChainID{types.ChainEthereum})

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, types.WatchlistRemoved, entries.entries["w1"].Status)
}

func TestMaintainer_NeverRemovesAlwaysWatchEntry(t *testing.T) {
	rows := []models.WalletStats30D{
		{Wallet: "w1", UnrealizedPnLUSD: -500, TradeCount30D: 10, BestTradeMultiple: 0.5, EarlyScoreMedian: 5},
	}
	stats := &fakeStats{rows: rows}
	entries := newFakeEntries()
	entries.entries["w1"] = &models.WatchlistEntry{
		Wallet: "w1", Status: types.WatchlistActive, AlwaysWatch: true,
	}
	cfg := config.WatchlistConfig{
		TopN: 10, Weights: config.WatchlistWeights{PnL: 0.3, Activity: 0.3, Early: 0.4},
	}
	m := NewMaintainer(stats, entries, alwaysInactive{}, cfg, []types.ChainID{types.ChainEthereum})

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, types.WatchlistActive, entries.entries["w1"].Status)
}

func TestAdjustWeights_BoundedAndRenormalized(t *testing.T) {
	prior := config.WatchlistWeights{PnL: 0.3, Activity: 0.3, Early: 0.4}
	adjusted := AdjustWeights(prior, map[string]float64{"pnl": 0.9, "activity": 0.1, "early": 0.1})

	sum := adjusted.PnL + adjusted.Activity + adjusted.Early
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, adjusted.PnL, prior.PnL)
}
