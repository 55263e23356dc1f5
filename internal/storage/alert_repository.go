package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AlertRepository persists the append-only alerts ledger in Postgres. It
// satisfies confluence.AlertStore, giving the detector a durable home for
// dedup keys beyond Redis's TTL'd sorted sets.
type AlertRepository struct {
	db *PostgresDB
}

func NewAlertRepository(db *PostgresDB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Exists reports whether dedupKey has already been recorded.
func (r *AlertRepository) Exists(ctx context.Context, dedupKey string) (bool, error) {
	var count int
	row := r.db.Pool().QueryRow(ctx, `SELECT count(*) FROM alerts WHERE dedup_key = $1`, dedupKey)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check alert existence: %w", err)
	}
	return count > 0, nil
}

// Insert appends an alert record. record.ID is assigned if empty.
func (r *AlertRepository) Insert(ctx context.Context, record *models.AlertRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	query := `
		INSERT INTO alerts (
			id, dedup_key, kind, chain_id, token_address, side, wallets,
			window_ms, weights_used, emitted_at, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dedup_key) DO NOTHING
	`
	_, err := r.db.Pool().Exec(ctx, query,
		record.ID, record.DedupKey, record.Kind, record.ChainID, record.Token,
		record.Side, record.Wallets, record.WindowMS, record.WeightsUsed,
		record.EmittedAt, record.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert record: %w", err)
	}
	return nil
}

// Get retrieves an alert by dedup key; nil, nil on miss. Used by
// debug/status surfaces and tests.
func (r *AlertRepository) Get(ctx context.Context, dedupKey string) (*models.AlertRecord, error) {
	query := `
		SELECT id, dedup_key, kind, chain_id, token_address, side, wallets,
			   window_ms, weights_used, emitted_at, outcome
		FROM alerts WHERE dedup_key = $1
	`
	var rec models.AlertRecord
	err := r.db.Pool().QueryRow(ctx, query, dedupKey).Scan(
		&rec.ID, &rec.DedupKey, &rec.Kind, &rec.ChainID, &rec.Token, &rec.Side,
		&rec.Wallets, &rec.WindowMS, &rec.WeightsUsed, &rec.EmittedAt, &rec.Outcome,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert record: %w", err)
	}
	return &rec, nil
}

// RecentForChain returns the most recently emitted alerts for chain,
// newest first, bounded by limit — used by the debug/status HTTP surface.
func (r *AlertRepository) RecentForChain(ctx context.Context, chain types.ChainID, limit int) ([]models.AlertRecord, error) {
	query := `
		SELECT id, dedup_key, kind, chain_id, token_address, side, wallets,
			   window_ms, weights_used, emitted_at, outcome
		FROM alerts WHERE chain_id = $1
		ORDER BY emitted_at DESC LIMIT $2
	`
	rows, err := r.db.Pool().Query(ctx, query, chain, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent alerts: %w", err)
	}
	defer rows.Close()

	var out []models.AlertRecord
	for rows.Next() {
		var rec models.AlertRecord
		if err := rows.Scan(
			&rec.ID, &rec.DedupKey, &rec.Kind, &rec.ChainID, &rec.Token, &rec.Side,
			&rec.Wallets, &rec.WindowMS, &rec.WeightsUsed, &rec.EmittedAt, &rec.Outcome,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
