package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluence-watch/internal/models"
	"github.com/confluence-watch/internal/types"
	"github.com/jackc/pgx/v5"
)

// WalletStatsRepository persists the materialized wallet_stats_30d table.
// C6 recomputes every row in full on each run; Upsert must therefore be a
// byte-identical replace, not an incremental merge (spec §8 "rerunning C6
// twice with the same inputs produces an identical row").
type WalletStatsRepository struct {
	db *PostgresDB
}

func NewWalletStatsRepository(db *PostgresDB) *WalletStatsRepository {
	return &WalletStatsRepository{db: db}
}

func (r *WalletStatsRepository) Upsert(ctx context.Context, s *models.WalletStats30D) error {
	query := `
		INSERT INTO wallet_stats_30d (
			wallet, chain_id, trade_count_30d, realized_pnl_usd,
			unrealized_pnl_usd, best_trade_multiple, early_score_median,
			max_drawdown_pct, last_7d_pnl_usd, prior_23d_avg_pnl_usd,
			is_bot, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (chain_id, wallet) DO UPDATE SET
			trade_count_30d = EXCLUDED.trade_count_30d,
			realized_pnl_usd = EXCLUDED.realized_pnl_usd,
			unrealized_pnl_usd = EXCLUDED.unrealized_pnl_usd,
			best_trade_multiple = EXCLUDED.best_trade_multiple,
			early_score_median = EXCLUDED.early_score_median,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			last_7d_pnl_usd = EXCLUDED.last_7d_pnl_usd,
			prior_23d_avg_pnl_usd = EXCLUDED.prior_23d_avg_pnl_usd,
			is_bot = EXCLUDED.is_bot,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool().Exec(ctx, query,
		s.Wallet, s.ChainID, s.TradeCount30D, s.RealizedPnLUSD,
		s.UnrealizedPnLUSD, s.BestTradeMultiple, s.EarlyScoreMedian,
		s.MaxDrawdownPct, s.Last7DPnLUSD, s.Prior23DAvgPnLUSD,
		s.IsBot, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert wallet stats: %w", err)
	}
	return nil
}

// Get retrieves the current stats row for a wallet; nil, nil on miss.
func (r *WalletStatsRepository) Get(ctx context.Context, chain types.ChainID, wallet string) (*models.WalletStats30D, error) {
	wallet = types.NormalizeAddress(chain, wallet)
	query := `
		SELECT wallet, chain_id, trade_count_30d, realized_pnl_usd,
			   unrealized_pnl_usd, best_trade_multiple, early_score_median,
			   max_drawdown_pct, last_7d_pnl_usd, prior_23d_avg_pnl_usd,
			   is_bot, updated_at
		FROM wallet_stats_30d WHERE chain_id = $1 AND wallet = $2
	`
	var s models.WalletStats30D
	err := r.db.Pool().QueryRow(ctx, query, chain, wallet).Scan(
		&s.Wallet, &s.ChainID, &s.TradeCount30D, &s.RealizedPnLUSD,
		&s.UnrealizedPnLUSD, &s.BestTradeMultiple, &s.EarlyScoreMedian,
		&s.MaxDrawdownPct, &s.Last7DPnLUSD, &s.Prior23DAvgPnLUSD,
		&s.IsBot, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet stats: %w", err)
	}
	return &s, nil
}

// ListByChain returns every stats row for chain, the input set C7's
// percentile-rank pass scores over.
func (r *WalletStatsRepository) ListByChain(ctx context.Context, chain types.ChainID) ([]models.WalletStats30D, error) {
	query := `
		SELECT wallet, chain_id, trade_count_30d, realized_pnl_usd,
			   unrealized_pnl_usd, best_trade_multiple, early_score_median,
			   max_drawdown_pct, last_7d_pnl_usd, prior_23d_avg_pnl_usd,
			   is_bot, updated_at
		FROM wallet_stats_30d WHERE chain_id = $1
	`
	rows, err := r.db.Pool().Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet stats: %w", err)
	}
	defer rows.Close()

	var out []models.WalletStats30D
	for rows.Next() {
		var s models.WalletStats30D
		if err := rows.Scan(
			&s.Wallet, &s.ChainID, &s.TradeCount30D, &s.RealizedPnLUSD,
			&s.UnrealizedPnLUSD, &s.BestTradeMultiple, &s.EarlyScoreMedian,
			&s.MaxDrawdownPct, &s.Last7DPnLUSD, &s.Prior23DAvgPnLUSD,
			&s.IsBot, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan wallet stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
