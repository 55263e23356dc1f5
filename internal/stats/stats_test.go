package stats

import (
	"context"
	"testing"
	"time"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/stretchr/testify/assert"
)

type fakeTradeReader struct {
	trades []models.Trade
	rank   int
	total  int
	rankOK bool
}

func (f *fakeTradeReader) ForWallet(ctx context.Context, chain types.ChainID, wallet string, sinceDays int) ([]models.Trade, error) {
	return f.trades, nil
}

func (f *fakeTradeReader) ActiveWallets(ctx context.Context, chain types.ChainID, sinceDays int) ([]string, error) {
	return nil, nil
}

func (f *fakeTradeReader) TokenBuyerRank(ctx context.Context, chain types.ChainID, token, wallet string) (int, int, bool, error) {
	return f.rank, f.total, f.rankOK, nil
}

// earlyScoresFor must use the true cross-wallet buyer rank (spec §4.5),
// not the wallet's own buy-order index, and must read MCapAtBuy/
// Token24hVolumeUSD off the trade's buy-time snapshot.
func TestEarlyScoresFor_UsesCrossWalletRank(t *testing.T) {
	now := time.Now()
	trades := []models.Trade{
		{TxHash: "0x1", Token: "0xtoken", Side: types.SideBuy, ValueUSD: 100, Timestamp: now, LiquidityAtBuyUSD: 50000, Token24hVolumeAtBuyUSD: 20000},
	}
	reader := &fakeTradeReader{trades: trades, rank: 1, total: 20, rankOK: true}
	j := &Job{tradeLog: reader}

	scores := j.earlyScoresFor(context.Background(), types.ChainEthereum, "0xwallet", trades)
	assert.Len(t, scores, 1)

	want := scores[0]
	// Cross-wallet rank_pct = 1/20 = 0.05; recompute independently to
	// pin the wiring, not analytics.EarlyScore's internal formula.
	reader2 := &fakeTradeReader{trades: trades, rank: 0, total: 1, rankOK: true}
	j2 := &Job{tradeLog: reader2}
	other := j2.earlyScoresFor(context.Background(), types.ChainEthereum, "0xwallet", trades)
	assert.NotEqual(t, want, other[0], "different cross-wallet ranks must produce different scores")
}

// When the buyer-rank lookup finds nothing (ok=false), earlyScoresFor
// falls back to the same-wallet buy-order index rather than failing.
func TestEarlyScoresFor_FallsBackWhenRankUnavailable(t *testing.T) {
	now := time.Now()
	trades := []models.Trade{
		{TxHash: "0x1", Token: "0xtoken", Side: types.SideBuy, ValueUSD: 100, Timestamp: now},
	}
	reader := &fakeTradeReader{trades: trades, rankOK: false}
	j := &Job{tradeLog: reader}

	scores := j.earlyScoresFor(context.Background(), types.ChainEthereum, "0xwallet", trades)
	assert.Len(t, scores, 1)
}
