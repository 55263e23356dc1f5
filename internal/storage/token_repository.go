package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/jackc/pgx/v5"
)

// TokenRepository persists the Token and (append-only) SeedToken tables
// in Postgres. Token upserts key on (chain_id, token_address); SeedToken
// rows are never updated, only inserted (spec §3 "Data model").
type TokenRepository struct {
	db *PostgresDB
}

func NewTokenRepository(db *PostgresDB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Upsert creates the token row on first ingestion, or refreshes the
// price/liquidity/volume/safety fields on every later observation.
// first_seen_at is preserved across updates.
func (r *TokenRepository) Upsert(ctx context.Context, token *models.Token) error {
	token.Address = types.NormalizeAddress(token.ChainID, token.Address)

	query := `
		INSERT INTO tokens (
			chain_id, token_address, symbol, display_name, liquidity_usd,
			volume_24h_usd, last_price_usd, tax_buy_pct, tax_sell_pct,
			is_honeypot, first_seen_at, last_observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (chain_id, token_address) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			display_name = EXCLUDED.display_name,
			liquidity_usd = EXCLUDED.liquidity_usd,
			volume_24h_usd = EXCLUDED.volume_24h_usd,
			last_price_usd = EXCLUDED.last_price_usd,
			tax_buy_pct = EXCLUDED.tax_buy_pct,
			tax_sell_pct = EXCLUDED.tax_sell_pct,
			is_honeypot = EXCLUDED.is_honeypot,
			last_observed_at = EXCLUDED.last_observed_at
	`
	_, err := r.db.Pool().Exec(ctx, query,
		token.ChainID, token.Address, token.Symbol, token.DisplayName,
		token.LiquidityUSD, token.Volume24hUSD, token.LastPriceUSD,
		token.TaxBuyPct, token.TaxSellPct, token.IsHoneypot,
		token.FirstSeenAt, token.LastObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

// Get retrieves a token by (chain, address); returns nil, nil on miss.
func (r *TokenRepository) Get(ctx context.Context, chain types.ChainID, address string) (*models.Token, error) {
	address = types.NormalizeAddress(chain, address)
	query := `
		SELECT chain_id, token_address, symbol, display_name, liquidity_usd,
			   volume_24h_usd, last_price_usd, tax_buy_pct, tax_sell_pct,
			   is_honeypot, first_seen_at, last_observed_at
		FROM tokens WHERE chain_id = $1 AND token_address = $2
	`
	var t models.Token
	err := r.db.Pool().QueryRow(ctx, query, chain, address).Scan(
		&t.ChainID, &t.Address, &t.Symbol, &t.DisplayName, &t.LiquidityUSD,
		&t.Volume24hUSD, &t.LastPriceUSD, &t.TaxBuyPct, &t.TaxSellPct,
		&t.IsHoneypot, &t.FirstSeenAt, &t.LastObservedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &t, nil
}

// InsertSeedToken appends a snapshot row recording that token appeared
// on source's trending list at seed.SnapshotTS. Never updates an
// existing row.
func (r *TokenRepository) InsertSeedToken(ctx context.Context, seed *models.SeedToken) error {
	seed.Address = types.NormalizeAddress(seed.ChainID, seed.Address)
	query := `
		INSERT INTO seed_tokens (chain_id, token_address, source, snapshot_ts)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Pool().Exec(ctx, query, seed.ChainID, seed.Address, seed.Source, seed.SnapshotTS)
	if err != nil {
		return fmt.Errorf("failed to insert seed token: %w", err)
	}
	return nil
}

// RecentSeedTokens returns the distinct (chain, token) pairs whose latest
// SeedToken snapshot falls within lookback of now — C3's discovery
// target selection (spec §4.3).
func (r *TokenRepository) RecentSeedTokens(ctx context.Context, chain types.ChainID, lookbackHours int) ([]models.SeedToken, error) {
	query := `
		SELECT DISTINCT ON (token_address) id, chain_id, token_address, source, snapshot_ts
		FROM seed_tokens
		WHERE chain_id = $1 AND snapshot_ts > NOW() - ($2 || ' hours')::interval
		ORDER BY token_address, snapshot_ts DESC
	`
	rows, err := r.db.Pool().Query(ctx, query, chain, lookbackHours)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent seed tokens: %w", err)
	}
	defer rows.Close()

	var out []models.SeedToken
	for rows.Next() {
		var s models.SeedToken
		if err := rows.Scan(&s.ID, &s.ChainID, &s.Address, &s.Source, &s.SnapshotTS); err != nil {
			return nil, fmt.Errorf("failed to scan seed token: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
