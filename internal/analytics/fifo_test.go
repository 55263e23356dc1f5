package analytics

import (
	"testing"
	"time"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTrade(tx string, ts time.Time, side types.Side, qty, price float64) models.Trade {
	return models.Trade{
		TxHash:       tx,
		ChainID:      types.ChainEthereum,
		Timestamp:    ts,
		Wallet:       "0xwallet",
		Token:        "0xtoken",
		Side:         side,
		Quantity:     qty,
		UnitPriceUSD: price,
		ValueUSD:     qty * price,
	}
}

// Scenario E (spec §8): buy 100 @ $1, buy 50 @ $2, sell 120 @ $3.
// Expected realized PnL = 100*(3-1) + 20*(3-2) = 220; remaining open lot 30 @ $2.
func TestFIFO_ScenarioE_PartialHistory(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []models.Trade{
		mkTrade("0x1", base, types.SideBuy, 100, 1),
		mkTrade("0x2", base.Add(time.Minute), types.SideBuy, 50, 2),
		mkTrade("0x3", base.Add(2*time.Minute), types.SideSell, 120, 3),
	}

	result := FIFO(trades, func(token string) (float64, bool) { return 0, false })

	assert.InDelta(t, 220.0, result.RealizedPnLUSD, 1e-9)
	require.Len(t, result.OpenLots["0xtoken"], 1)
	assert.InDelta(t, 30.0, result.OpenLots["0xtoken"][0].QtyRemaining, 1e-9)
	assert.InDelta(t, 2.0, result.OpenLots["0xtoken"][0].UnitCostUSD, 1e-9)
}

// FIFO sorts trades by (timestamp, tx_hash) before matching, so realized
// PnL and open lots do not depend on the order the trades are passed in.
func TestFIFO_OrderIndependentOfInputOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ordered := []models.Trade{
		mkTrade("0x1", base, types.SideBuy, 10, 1),
		mkTrade("0x2", base.Add(time.Second), types.SideBuy, 10, 2),
		mkTrade("0x3", base.Add(2*time.Second), types.SideSell, 15, 5),
	}
	shuffled := []models.Trade{ordered[2], ordered[0], ordered[1]}

	r1 := FIFO(ordered, func(string) (float64, bool) { return 0, false })
	r2 := FIFO(shuffled, func(string) (float64, bool) { return 0, false })

	assert.Equal(t, r1.RealizedPnLUSD, r2.RealizedPnLUSD)
	assert.Equal(t, r1.OpenLots, r2.OpenLots)
}

func TestFIFO_OversellClampsAtZeroCostWithWarning(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []models.Trade{
		mkTrade("0x1", base, types.SideSell, 50, 4),
	}

	result := FIFO(trades, func(string) (float64, bool) { return 0, false })

	assert.InDelta(t, 200.0, result.RealizedPnLUSD, 1e-9) // 50 * (4 - 0)
	require.Len(t, result.Warnings, 1)
	assert.Empty(t, result.OpenLots["0xtoken"])
}

func TestFIFO_UnrealizedUsesCurrentPrice(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []models.Trade{
		mkTrade("0x1", base, types.SideBuy, 10, 1),
	}

	result := FIFO(trades, func(string) (float64, bool) { return 1.5, true })
	assert.InDelta(t, 5.0, result.UnrealizedPnLUSD, 1e-9) // 10 * (1.5 - 1)
}

func TestFIFO_PriceMissingContributesZeroUnrealized(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []models.Trade{
		mkTrade("0x1", base, types.SideBuy, 10, 1),
	}

	result := FIFO(trades, func(string) (float64, bool) { return 0, false })
	assert.Equal(t, 0.0, result.UnrealizedPnLUSD)
}

// Two FIFO runs over the same full trade history produce identical
// realized PnL and open lots.
func TestFIFO_RerunOverSameHistoryIsIdentical(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	full := []models.Trade{
		mkTrade("0x1", base, types.SideBuy, 10, 1),
		mkTrade("0x2", base.Add(time.Second), types.SideBuy, 10, 2),
		mkTrade("0x3", base.Add(2*time.Second), types.SideSell, 5, 5),
		mkTrade("0x4", base.Add(3*time.Second), types.SideSell, 10, 6),
	}

	fullResult := FIFO(full, func(string) (float64, bool) { return 0, false })
	replayResult := FIFO(full, func(string) (float64, bool) { return 0, false })

	assert.Equal(t, fullResult.RealizedPnLUSD, replayResult.RealizedPnLUSD)
	assert.Equal(t, fullResult.OpenLots, replayResult.OpenLots)
}
