package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/jackc/pgx/v5"
)

// WatchlistRepository persists the watchlist table. Entries are added and
// removed exclusively by C7; AlwaysWatch marks a human override that C7
// must never remove regardless of composite score (spec §4.7).
type WatchlistRepository struct {
	db *PostgresDB
}

func NewWatchlistRepository(db *PostgresDB) *WatchlistRepository {
	return &WatchlistRepository{db: db}
}

// Upsert inserts a new entry, or refreshes score/status/weights on an
// existing one while preserving AddedAt and AlwaysWatch.
func (r *WatchlistRepository) Upsert(ctx context.Context, e *models.WatchlistEntry) error {
	query := `
		INSERT INTO watchlist (
			wallet, chain_id, composite_score, status, added_at,
			last_evaluated_at, always_watch, weights_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain_id, wallet) DO UPDATE SET
			composite_score = EXCLUDED.composite_score,
			status = EXCLUDED.status,
			last_evaluated_at = EXCLUDED.last_evaluated_at,
			weights_used = EXCLUDED.weights_used
	`
	_, err := r.db.Pool().Exec(ctx, query,
		e.Wallet, e.ChainID, e.CompositeScore, e.Status, e.AddedAt,
		e.LastEvaluated, e.AlwaysWatch, e.WeightsUsed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist entry: %w", err)
	}
	return nil
}

// SetStatus transitions an entry's lifecycle state without touching its
// score, e.g. active -> removed.
func (r *WatchlistRepository) SetStatus(ctx context.Context, chain types.ChainID, wallet string, status types.WatchlistStatus) error {
	wallet = types.NormalizeAddress(chain, wallet)
	query := `UPDATE watchlist SET status = $3 WHERE chain_id = $1 AND wallet = $2`
	_, err := r.db.Pool().Exec(ctx, query, chain, wallet, status)
	if err != nil {
		return fmt.Errorf("failed to set watchlist status: %w", err)
	}
	return nil
}

// SetAlwaysWatch marks or clears the human-override flag that exempts an
// entry from C7's score-driven removal.
func (r *WatchlistRepository) SetAlwaysWatch(ctx context.Context, chain types.ChainID, wallet string, alwaysWatch bool) error {
	wallet = types.NormalizeAddress(chain, wallet)
	query := `UPDATE watchlist SET always_watch = $3 WHERE chain_id = $1 AND wallet = $2`
	_, err := r.db.Pool().Exec(ctx, query, chain, wallet, alwaysWatch)
	if err != nil {
		return fmt.Errorf("failed to set always_watch: %w", err)
	}
	return nil
}

// Get retrieves a watchlist entry; nil, nil on miss.
func (r *WatchlistRepository) Get(ctx context.Context, chain types.ChainID, wallet string) (*models.WatchlistEntry, error) {
	wallet = types.NormalizeAddress(chain, wallet)
	query := `
		SELECT wallet, chain_id, composite_score, status, added_at,
			   last_evaluated_at, always_watch, weights_used
		FROM watchlist WHERE chain_id = $1 AND wallet = $2
	`
	var e models.WatchlistEntry
	err := r.db.Pool().QueryRow(ctx, query, chain, wallet).Scan(
		&e.Wallet, &e.ChainID, &e.CompositeScore, &e.Status, &e.AddedAt,
		&e.LastEvaluated, &e.AlwaysWatch, &e.WeightsUsed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get watchlist entry: %w", err)
	}
	return &e, nil
}

// ListActive returns every active or always-watch entry for chain, the
// monitor target set C8 reads each cycle.
func (r *WatchlistRepository) ListActive(ctx context.Context, chain types.ChainID) ([]models.WatchlistEntry, error) {
	query := `
		SELECT wallet, chain_id, composite_score, status, added_at,
			   last_evaluated_at, always_watch, weights_used
		FROM watchlist
		WHERE chain_id = $1 AND (status = $2 OR always_watch)
	`
	rows, err := r.db.Pool().Query(ctx, query, chain, types.WatchlistActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active watchlist entries: %w", err)
	}
	defer rows.Close()
	return scanWatchlistEntries(rows)
}

// ListAll returns every entry for chain regardless of status, the
// candidate set C7 re-scores on each run.
func (r *WatchlistRepository) ListAll(ctx context.Context, chain types.ChainID) ([]models.WatchlistEntry, error) {
	query := `
		SELECT wallet, chain_id, composite_score, status, added_at,
			   last_evaluated_at, always_watch, weights_used
		FROM watchlist WHERE chain_id = $1
	`
	rows, err := r.db.Pool().Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist entries: %w", err)
	}
	defer rows.Close()
	return scanWatchlistEntries(rows)
}

func scanWatchlistEntries(rows pgx.Rows) ([]models.WatchlistEntry, error) {
	var out []models.WatchlistEntry
	for rows.Next() {
		var e models.WatchlistEntry
		if err := rows.Scan(
			&e.Wallet, &e.ChainID, &e.CompositeScore, &e.Status, &e.AddedAt,
			&e.LastEvaluated, &e.AlwaysWatch, &e.WeightsUsed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
