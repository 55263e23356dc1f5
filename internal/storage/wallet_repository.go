package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/jackc/pgx/v5"
)

// WalletRepository persists Wallet rows in Postgres. Created by C3 on
// first observation of a trade; labels mutated by C5 and human override.
type WalletRepository struct {
	db *PostgresDB
}

func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// UpsertFirstSeen inserts the wallet if unseen, leaving first_seen_at
// and labels untouched if it already exists — this is a "create on
// first observation" upsert, not a field refresh.
func (r *WalletRepository) UpsertFirstSeen(ctx context.Context, chain types.ChainID, address string) error {
	address = types.NormalizeAddress(chain, address)
	query := `
		INSERT INTO wallets (chain_id, address, first_seen_at, labels)
		VALUES ($1, $2, NOW(), '{}')
		ON CONFLICT (chain_id, address) DO NOTHING
	`
	_, err := r.db.Pool().Exec(ctx, query, chain, address)
	if err != nil {
		return fmt.Errorf("failed to upsert wallet: %w", err)
	}
	return nil
}

// Get retrieves a wallet by (chain, address); returns nil, nil on miss.
func (r *WalletRepository) Get(ctx context.Context, chain types.ChainID, address string) (*models.Wallet, error) {
	address = types.NormalizeAddress(chain, address)
	query := `SELECT chain_id, address, first_seen_at, labels FROM wallets WHERE chain_id = $1 AND address = $2`
	var w models.Wallet
	err := r.db.Pool().QueryRow(ctx, query, chain, address).Scan(&w.ChainID, &w.Address, &w.FirstSeenAt, &w.Labels)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// SetLabels overwrites a wallet's label set, e.g. adding "bot" after C5
// flags it.
func (r *WalletRepository) SetLabels(ctx context.Context, chain types.ChainID, address string, labels []string) error {
	address = types.NormalizeAddress(chain, address)
	query := `UPDATE wallets SET labels = $3 WHERE chain_id = $1 AND address = $2`
	_, err := r.db.Pool().Exec(ctx, query, chain, address, labels)
	if err != nil {
		return fmt.Errorf("failed to set wallet labels: %w", err)
	}
	return nil
}

// ListAll returns every wallet tracked on chain, used by the watchlist
// maintainer's percentile-rank pass over all wallets.
func (r *WalletRepository) ListAll(ctx context.Context, chain types.ChainID) ([]models.Wallet, error) {
	query := `SELECT chain_id, address, first_seen_at, labels FROM wallets WHERE chain_id = $1`
	rows, err := r.db.Pool().Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var out []models.Wallet
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.ChainID, &w.Address, &w.FirstSeenAt, &w.Labels); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
