// Package analytics implements C5: three pure, side-effect-free
// functions over trade history — FIFO realized/unrealized PnL, the
// Being-Early score, and the bot heuristics — plus the deterministic
// sort spec §5 requires before any of them run.
package analytics

import (
	"sort"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
)

// SortTrades returns trades sorted by (timestamp asc, tx_hash asc), the
// deterministic order spec §5 requires before FIFO processing. Input is
// not mutated.
func SortTrades(trades []models.Trade) []models.Trade {
	out := make([]models.Trade, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].TxHash < out[j].TxHash
	})
	return out
}

// PriceLookup resolves the current USD price of a token for unrealized
// PnL; ok=false means C4 returned PriceMissing and the caller must treat
// the contribution as 0, never fabricate a value.
type PriceLookup func(token string) (usd float64, ok bool)

// PnLResult is the outcome of FIFO over one wallet's trade history,
// possibly spanning many tokens.
type PnLResult struct {
	RealizedPnLUSD   float64
	UnrealizedPnLUSD float64
	OpenLots         map[string][]models.Lot // token -> open lots
	BestMultiple     float64                 // max sell_price/lot_cost across closed lots, realized only (see DESIGN.md)
	Warnings         []string
}

// FIFO runs FIFO PnL accounting over trades, which may span multiple
// (chain, token) pairs for a single wallet — each token's lot queue is
// independent. trades need not be pre-sorted; FIFO sorts internally.
func FIFO(trades []models.Trade, price PriceLookup) PnLResult {
	sorted := SortTrades(trades)

	byToken := make(map[string][]models.Trade)
	for _, t := range sorted {
		byToken[t.Token] = append(byToken[t.Token], t)
	}

	result := PnLResult{OpenLots: make(map[string][]models.Lot)}

	for token, tokenTrades := range byToken {
		lots, realized, bestMultiple, warnings := fifoOneToken(tokenTrades)
		result.RealizedPnLUSD += realized
		result.OpenLots[token] = lots
		if bestMultiple > result.BestMultiple {
			result.BestMultiple = bestMultiple
		}
		result.Warnings = append(result.Warnings, warnings...)

		if len(lots) == 0 {
			continue
		}
		usd, ok := price(token)
		if !ok {
			// PriceMissing: unrealized contribution for this token's open
			// lots is 0, never fabricated (spec §4.4/§4.5).
			continue
		}
		for _, lot := range lots {
			result.UnrealizedPnLUSD += lot.QtyRemaining * (usd - lot.UnitCostUSD)
		}
	}

	return result
}

// fifoOneToken processes a single token's trade history (already sorted)
// and returns the remaining open lots, realized PnL, the best realized
// trade multiple (max sell_price/lot_cost across closed lots), and any
// warnings raised by clamped oversell matches.
func fifoOneToken(trades []models.Trade) (lots []models.Lot, realized float64, bestMultiple float64, warnings []string) {
	for _, t := range trades {
		switch t.Side {
		case types.SideBuy:
			lots = append(lots, models.Lot{
				QtyRemaining: t.Quantity,
				UnitCostUSD:  t.UnitPriceUSD,
				AcquiredAt:   t.Timestamp,
			})
		case types.SideSell:
			remaining := t.Quantity
			for remaining > 0 && len(lots) > 0 {
				lot := &lots[0]
				matched := remaining
				if lot.QtyRemaining < matched {
					matched = lot.QtyRemaining
				}

				realized += matched * (t.UnitPriceUSD - lot.UnitCostUSD)
				if lot.UnitCostUSD > 0 {
					multiple := t.UnitPriceUSD / lot.UnitCostUSD
					if multiple > bestMultiple {
						bestMultiple = multiple
					}
				}

				lot.QtyRemaining -= matched
				remaining -= matched
				if lot.QtyRemaining <= 0 {
					lots = lots[1:]
				}
			}

			if remaining > 0 {
				// Real sells can precede observed buys when history is
				// partial: match the excess at zero cost, per spec §4.5.
				realized += remaining * t.UnitPriceUSD
				warnings = append(warnings, "sell "+t.TxHash+" exceeded available open lots; residual matched at zero cost")
			}
		}
	}
	return lots, realized, bestMultiple, warnings
}
