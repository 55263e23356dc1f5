// Package adapter defines the upstream capability interfaces (spec §4.1)
// and the concrete EVM/Solana/price/safety adapters that implement them.
// Every other component depends only on these interfaces; upstream
// quirks never leak past this package.
package adapter

import (
	"context"
	"time"

	"github.com/confluence-watch/internal/types"
)

// TokenSnapshot is one entry from a trending-token feed.
type TokenSnapshot struct {
	Address      string
	Symbol       string
	PriceUSD     float64
	LiquidityUSD float64
	Volume24hUSD float64
}

// Transfer is a single on-chain token transfer, already normalized to
// the chain's canonical address casing.
type Transfer struct {
	TxHash      string
	BlockNumber uint64
	Timestamp   time.Time
	From        string
	To          string
	Token       string
	Quantity    float64
	Venue       string
}

// SafetyResult is the outcome of a honeypot/tax check.
type SafetyResult struct {
	TaxBuyPct  float64
	TaxSellPct float64
	IsHoneypot bool
}

// TrendingSource yields tokens currently trending on a chain.
type TrendingSource interface {
	Name() string
	FetchTrending(ctx context.Context, chain types.ChainID) ([]TokenSnapshot, error)
}

// TransferSource fetches raw transfer history, either scoped to a token
// (for C3's discovery fan-out) or to a wallet in a given direction (for
// C8's monitor loop, which needs buys and sells requested separately).
type TransferSource interface {
	Name() string
	FetchTokenTransfers(ctx context.Context, chain types.ChainID, token string, fromBlock, toBlock uint64, limit int) ([]Transfer, error)
	FetchWalletTransfers(ctx context.Context, chain types.ChainID, wallet string, direction types.Direction, fromBlock uint64, limit int) ([]Transfer, error)
	CurrentBlock(ctx context.Context, chain types.ChainID) (uint64, error)
}

// PriceSource returns the current USD price of a token, or ok=false on a
// clean miss (token not listed by this source).
type PriceSource interface {
	Name() string
	PriceOf(ctx context.Context, chain types.ChainID, token string) (usd float64, ok bool, err error)
}

// SafetySource runs a honeypot/tax check against a token contract.
type SafetySource interface {
	Name() string
	SafetyCheck(ctx context.Context, chain types.ChainID, token string) (SafetyResult, error)
}
