package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
)

// TradeRepository persists Trade rows in ClickHouse: a high write-volume,
// append-only table, mirroring the teacher's TransactionRepository. Trade
// idempotence (spec §8 invariant 1) is enforced with a ReplacingMergeTree
// keyed on tx_hash (see migrations) plus an application-level existence
// check before insert, since ClickHouse's own dedup is eventual.
type TradeRepository struct {
	db *ClickHouseDB
}

func NewTradeRepository(db *ClickHouseDB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Insert appends a trade. Callers must check Exists first (spec §4.3/§4.8
// "duplicates are silently ignored") since ClickHouse does not offer a
// synchronous unique constraint.
func (r *TradeRepository) Insert(ctx context.Context, t *models.Trade) error {
	t.Wallet = types.NormalizeAddress(t.ChainID, t.Wallet)
	t.Token = types.NormalizeAddress(t.ChainID, t.Token)

	query := `
		INSERT INTO trades (
			tx_hash, chain_id, ts, wallet, token_address, side, quantity,
			unit_price_usd, value_usd, venue, liquidity_at_buy_usd, volume_24h_at_buy_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := r.db.Conn().Exec(ctx, query,
		t.TxHash, string(t.ChainID), t.Timestamp, t.Wallet, t.Token,
		string(t.Side), t.Quantity, t.UnitPriceUSD, t.ValueUSD, t.Venue,
		t.LiquidityAtBuyUSD, t.Token24hVolumeAtBuyUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// Exists reports whether tx_hash has already been observed, the
// idempotent-ingest gate spec §3 requires before any insert.
func (r *TradeRepository) Exists(ctx context.Context, txHash string) (bool, error) {
	var count uint64
	row := r.db.Conn().QueryRow(ctx, `SELECT count() FROM trades WHERE tx_hash = ?`, txHash)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check trade existence: %w", err)
	}
	return count > 0, nil
}

// InsertIfNew is the idempotent insert path C3 and C8 both use: skip if
// tx_hash is already present, otherwise insert.
func (r *TradeRepository) InsertIfNew(ctx context.Context, t *models.Trade) (inserted bool, err error) {
	exists, err := r.Exists(ctx, t.TxHash)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := r.Insert(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// ForWallet returns a wallet's trades since the given number of days ago,
// ordered by (ts asc, tx_hash asc) — already in the order C5 requires,
// though callers should still run analytics.SortTrades defensively.
func (r *TradeRepository) ForWallet(ctx context.Context, chain types.ChainID, wallet string, sinceDays int) ([]models.Trade, error) {
	wallet = types.NormalizeAddress(chain, wallet)
	query := `
		SELECT tx_hash, chain_id, ts, wallet, token_address, side, quantity,
			   unit_price_usd, value_usd, venue, liquidity_at_buy_usd, volume_24h_at_buy_usd
		FROM trades
		WHERE chain_id = ? AND wallet = ? AND ts > now() - INTERVAL ? DAY
		ORDER BY ts ASC, tx_hash ASC
	`
	rows, err := r.db.Conn().Query(ctx, query, string(chain), wallet, sinceDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for wallet: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ActiveWallets returns every distinct wallet with at least one trade on
// chain in the last sinceDays days — the input set for C6's full
// recomputation. Trades live in ClickHouse, not Postgres, so this is the
// authoritative source for "recently active," not WalletRepository.
func (r *TradeRepository) ActiveWallets(ctx context.Context, chain types.ChainID, sinceDays int) ([]string, error) {
	query := `
		SELECT DISTINCT wallet FROM trades
		WHERE chain_id = ? AND ts > now() - INTERVAL ? DAY
	`
	rows, err := r.db.Conn().Query(ctx, query, string(chain), sinceDays)
	if err != nil {
		return nil, fmt.Errorf("failed to list recently active wallets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// TokenBuyerRank returns wallet's 0-based rank among all distinct buyers
// of token (ordered by each buyer's first observed buy timestamp) and
// the total distinct buyer count, the rank_pct inputs spec §4.5 names
// ("the wallet's 0-based rank among all observed buyers of the token
// divided by the total buyer count"). ok is false if wallet has never
// bought token.
func (r *TradeRepository) TokenBuyerRank(ctx context.Context, chain types.ChainID, token, wallet string) (rank int, total int, ok bool, err error) {
	token = types.NormalizeAddress(chain, token)
	wallet = types.NormalizeAddress(chain, wallet)
	query := `
		SELECT wallet FROM (
			SELECT wallet, min(ts) AS first_buy
			FROM trades
			WHERE chain_id = ? AND token_address = ? AND side = 'buy'
			GROUP BY wallet
		)
		ORDER BY first_buy ASC
	`
	rows, qerr := r.db.Conn().Query(ctx, query, string(chain), token)
	if qerr != nil {
		return 0, 0, false, fmt.Errorf("failed to query token buyer ranks: %w", qerr)
	}
	defer rows.Close()

	idx := -1
	count := 0
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return 0, 0, false, fmt.Errorf("failed to scan buyer: %w", err)
		}
		if w == wallet {
			idx = count
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, false, err
	}
	if idx < 0 {
		return 0, 0, false, nil
	}
	return idx, count, true, nil
}

// LatestPrice returns the most recent trade price observed for (chain,
// token) — C4's fallback when every PriceSource misses.
func (r *TradeRepository) LatestPrice(ctx context.Context, chain types.ChainID, token string) (float64, bool, error) {
	token = types.NormalizeAddress(chain, token)
	query := `
		SELECT unit_price_usd FROM trades
		WHERE chain_id = ? AND token_address = ?
		ORDER BY ts DESC LIMIT 1
	`
	row := r.db.Conn().QueryRow(ctx, query, string(chain), token)
	var price float64
	if err := row.Scan(&price); err != nil {
		if strings.Contains(err.Error(), "no rows") || err.Error() == "sql: no rows in result set" {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query latest price: %w", err)
	}
	return price, true, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

func scanTrades(rows rowScanner) ([]models.Trade, error) {
	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		var chain, side string
		if err := rows.Scan(&t.TxHash, &chain, &t.Timestamp, &t.Wallet, &t.Token, &side, &t.Quantity, &t.UnitPriceUSD, &t.ValueUSD, &t.Venue, &t.LiquidityAtBuyUSD, &t.Token24hVolumeAtBuyUSD); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.ChainID = types.ChainID(chain)
		t.Side = types.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}
