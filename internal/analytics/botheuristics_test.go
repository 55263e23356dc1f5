package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/stretchr/testify/assert"
)

// buildFlipTrades builds n buy/sell pairs, each on its own token, where
// flipCount of them are separated by less than flipWindow.
func buildFlipTrades(base time.Time, n, flipCount int) []models.Trade {
	var trades []models.Trade
	for i := 0; i < n; i++ {
		token := fmt.Sprintf("0xtoken%d", i)
		gap := 2 * time.Hour
		if i < flipCount {
			gap = 5 * time.Second
		}
		buy := mkTrade(fmt.Sprintf("0xb%d", i), base.Add(time.Duration(i)*3*time.Hour), types.SideBuy, 10, 1)
		buy.Token = token
		sell := mkTrade(fmt.Sprintf("0xs%d", i), buy.Timestamp.Add(gap), types.SideSell, 10, 1.1)
		sell.Token = token
		trades = append(trades, buy, sell)
	}
	return trades
}

func TestBotHeuristics_HighFrequencyFlagsBot(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var trades []models.Trade
	for i := 0; i < 400; i++ {
		tr := mkTrade(fmt.Sprintf("0x%d", i), base.Add(time.Duration(i)*time.Second), types.SideBuy, 1, 1)
		tr.Token = fmt.Sprintf("0xtoken%d", i)
		trades = append(trades, tr)
	}

	flags := BotHeuristics(trades, 1) // 400 trades / 1 day window
	assert.Greater(t, flags.AvgTradesPerDay, 100.0)
	assert.True(t, flags.IsBot)
}

func TestBotHeuristics_FlipRatioFlagsBot(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := buildFlipTrades(base, 10, 4) // 4 of 10 pairs flip within window
	flags := BotHeuristics(trades, 30)

	assert.Greater(t, flags.FlipRatio, 0.30)
	assert.True(t, flags.IsBot)
}

func TestBotHeuristics_NormalTradingNotFlagged(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := buildFlipTrades(base, 10, 0)

	flags := BotHeuristics(trades, 30)
	assert.False(t, flags.IsBot)
}

func TestBotHeuristics_AllSingleBlockRoundTripsFlagsBot(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buy1 := mkTrade("0xb1", base, types.SideBuy, 10, 1)
	sell1 := mkTrade("0xs1", base.Add(2*time.Second), types.SideSell, 10, 1.1)
	buy2 := mkTrade("0xb2", base.Add(time.Hour), types.SideBuy, 10, 1)
	buy2.Token = "0xtoken2"
	sell2 := mkTrade("0xs2", base.Add(time.Hour+3*time.Second), types.SideSell, 10, 1.1)
	sell2.Token = "0xtoken2"

	trades := []models.Trade{buy1, sell1, buy2, sell2}

	flags := BotHeuristics(trades, 30)
	assert.True(t, flags.AllPositionsRoundTrip)
	assert.True(t, flags.IsBot)
}

func TestBotHeuristics_EmptyHistory(t *testing.T) {
	flags := BotHeuristics(nil, 30)
	assert.False(t, flags.IsBot)
}
