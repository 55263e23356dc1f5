// Package models holds the persisted entities of the discovery/confluence
// pipeline: Token, SeedToken, Wallet, Trade, Position, WalletStats30D,
// WatchlistEntry, and AlertRecord, per the data model these repositories
// back.
package models

import (
	"time"

	"github.com/confluence-watch/internal/types"
)

// Token is identified by (chain, address); address is normalized per
// types.NormalizeAddress before storage. Created on first ingestion by
// C2, mutated only by C2/C4, never deleted.
type Token struct {
	ChainID         types.ChainID `db:"chain_id"`
	Address         string        `db:"token_address"`
	Symbol          string        `db:"symbol"`
	DisplayName     string        `db:"display_name"`
	LiquidityUSD    float64       `db:"liquidity_usd"`
	Volume24hUSD    float64       `db:"volume_24h_usd"`
	LastPriceUSD    float64       `db:"last_price_usd"`
	TaxBuyPct       float64       `db:"tax_buy_pct"`
	TaxSellPct      float64       `db:"tax_sell_pct"`
	IsHoneypot      bool          `db:"is_honeypot"`
	FirstSeenAt     time.Time     `db:"first_seen_at"`
	LastObservedAt  time.Time     `db:"last_observed_at"`
}

// SeedToken is an append-only snapshot recording that a token appeared on
// source's trending list at snapshot_ts. Used by C3 to pick discovery
// targets.
type SeedToken struct {
	ID          int64         `db:"id"`
	ChainID     types.ChainID `db:"chain_id"`
	Address     string        `db:"token_address"`
	Source      string        `db:"source"`
	SnapshotTS  time.Time     `db:"snapshot_ts"`
}

// Wallet is identified by (chain, address). Created by C3 on first
// observed trade; Labels is mutated by C5 (bot flag) and human override.
type Wallet struct {
	ChainID     types.ChainID `db:"chain_id"`
	Address     string        `db:"address"`
	FirstSeenAt time.Time     `db:"first_seen_at"`
	Labels      []string      `db:"labels"`
}

// HasLabel reports whether w carries label.
func (w *Wallet) HasLabel(label string) bool {
	for _, l := range w.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Trade is identified by TxHash, unique within a chain, and is never
// mutated after insert. Produced by C3 and C8. LiquidityAtBuyUSD and
// Token24hVolumeAtBuyUSD snapshot the token's liquidity/24h volume at
// observation time — the inputs the Being-Early score's mcap_at_buy and
// volume_participation terms need (spec §4.5), captured at ingest since
// the token's live figures drift afterward.
type Trade struct {
	TxHash                 string        `db:"tx_hash"`
	ChainID                types.ChainID `db:"chain_id"`
	Timestamp              time.Time     `db:"ts"`
	Wallet                 string        `db:"wallet"`
	Token                  string        `db:"token_address"`
	Side                   types.Side    `db:"side"`
	Quantity               float64       `db:"quantity"`
	UnitPriceUSD           float64       `db:"unit_price_usd"`
	ValueUSD               float64       `db:"value_usd"`
	Venue                  string        `db:"venue"`
	LiquidityAtBuyUSD      float64       `db:"liquidity_at_buy_usd"`
	Token24hVolumeAtBuyUSD float64       `db:"volume_24h_at_buy_usd"`
}

// Lot is one open FIFO buy lot within a Position.
type Lot struct {
	QtyRemaining float64
	UnitCostUSD  float64
	AcquiredAt   time.Time
}

// Position is derived state rebuilt from Trades; never a primary source
// of truth. Identity is (chain, wallet, token).
type Position struct {
	ChainID          types.ChainID
	Wallet           string
	Token            string
	Lots             []Lot
	RealizedPnLUSD   float64
	LastRebuiltTrade string // tx_hash watermark of the last trade folded in
}

// WalletStats30D is identified by wallet; recomputed in full by C6 every
// run, never incrementally.
type WalletStats30D struct {
	Wallet             string        `db:"wallet"`
	ChainID            types.ChainID `db:"chain_id"`
	TradeCount30D      int           `db:"trade_count_30d"`
	RealizedPnLUSD     float64       `db:"realized_pnl_usd"`
	UnrealizedPnLUSD   float64       `db:"unrealized_pnl_usd"`
	BestTradeMultiple  float64       `db:"best_trade_multiple"`
	EarlyScoreMedian   float64       `db:"early_score_median"`
	MaxDrawdownPct     float64       `db:"max_drawdown_pct"`
	Last7DPnLUSD       float64       `db:"last_7d_pnl_usd"`
	Prior23DAvgPnLUSD  float64       `db:"prior_23d_avg_pnl_usd"`
	IsBot              bool          `db:"is_bot"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

// WatchlistEntry is identified by wallet; managed entirely by C7.
type WatchlistEntry struct {
	Wallet         string                 `db:"wallet"`
	ChainID        types.ChainID          `db:"chain_id"`
	CompositeScore float64                `db:"composite_score"`
	Status         types.WatchlistStatus  `db:"status"`
	AddedAt        time.Time              `db:"added_at"`
	LastEvaluated  time.Time              `db:"last_evaluated_at"`
	AlwaysWatch    bool                   `db:"always_watch"`
	WeightsUsed    map[string]float64     `db:"weights_used"`
}

// AlertRecord is the append-only ledger of emitted alerts, keyed by a
// content-hash dedup key (spec §4.9).
type AlertRecord struct {
	ID          string          `db:"id"`
	DedupKey    string          `db:"dedup_key"`
	Kind        types.AlertKind `db:"kind"`
	ChainID     types.ChainID   `db:"chain_id"`
	Token       string          `db:"token_address"`
	Side        types.Side      `db:"side"`
	Wallets     []string        `db:"wallets"`
	WindowMS    int64           `db:"window_ms"`
	WeightsUsed map[string]float64 `db:"weights_used"`
	EmittedAt   time.Time       `db:"emitted_at"`
	Outcome     types.EmitOutcome `db:"outcome"`
}
