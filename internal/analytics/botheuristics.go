package analytics

import (
	"time"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
)

// sameBlockWindow approximates "within one block" for the round-trip
// heuristic. models.Trade carries only a timestamp, not a block number
// (block number is a Transfer-level field, already consumed by the
// DEX-pool heuristic before a Trade row exists), so this is a timestamp
// approximation rather than an exact block check.
const sameBlockWindow = 15 * time.Second

// flipWindow is the <60s spec §4.5(b) buy/sell-flip threshold.
const flipWindow = 60 * time.Second

// BotFlags is the outcome of the three bot heuristics of spec §4.5.
type BotFlags struct {
	AvgTradesPerDay      float64
	FlipRatio            float64 // fraction of trades in a <60s same-token buy/sell flip
	AllPositionsRoundTrip bool
	IsBot                bool
}

// BotHeuristics evaluates a wallet's trade history over windowDays and
// flags it bot if any of the three spec §4.5 rules trip. Flagged wallets
// are excluded from the watchlist (C7) but remain in the store.
func BotHeuristics(trades []models.Trade, windowDays float64) BotFlags {
	if len(trades) == 0 || windowDays <= 0 {
		return BotFlags{}
	}
	sorted := SortTrades(trades)

	avgPerDay := float64(len(sorted)) / windowDays
	flipRatio := flipRatioOf(sorted)
	allRoundTrip := allPositionsSingleRoundTrip(sorted)

	flags := BotFlags{
		AvgTradesPerDay:       avgPerDay,
		FlipRatio:             flipRatio,
		AllPositionsRoundTrip: allRoundTrip,
	}
	flags.IsBot = avgPerDay > 100 || flipRatio > 0.30 || allRoundTrip
	return flags
}

// flipRatioOf counts, per token, how many trades participate in a
// buy-then-sell (or sell-then-buy) pair separated by less than
// flipWindow, and returns that count as a fraction of all trades.
func flipRatioOf(sorted []models.Trade) float64 {
	byToken := make(map[string][]models.Trade)
	for _, t := range sorted {
		byToken[t.Token] = append(byToken[t.Token], t)
	}

	flipped := make(map[string]bool) // tx_hash -> counted
	for _, seq := range byToken {
		for i := 1; i < len(seq); i++ {
			prev, cur := seq[i-1], seq[i]
			if prev.Side == cur.Side {
				continue
			}
			if cur.Timestamp.Sub(prev.Timestamp) < flipWindow {
				flipped[prev.TxHash] = true
				flipped[cur.TxHash] = true
			}
		}
	}

	return float64(len(flipped)) / float64(len(sorted))
}

// allPositionsSingleRoundTrip reports whether every (token) position the
// wallet touched consists of exactly one buy immediately followed by one
// sell within sameBlockWindow — spec §4.5(c)'s "single round-trip within
// one block" pattern, characteristic of sandwich/arb bots.
func allPositionsSingleRoundTrip(sorted []models.Trade) bool {
	byToken := make(map[string][]models.Trade)
	for _, t := range sorted {
		byToken[t.Token] = append(byToken[t.Token], t)
	}
	if len(byToken) == 0 {
		return false
	}

	for _, seq := range byToken {
		if len(seq) != 2 {
			return false
		}
		if seq[0].Side != types.SideBuy || seq[1].Side != types.SideSell {
			return false
		}
		if seq[1].Timestamp.Sub(seq[0].Timestamp) > sameBlockWindow {
			return false
		}
	}
	return true
}
