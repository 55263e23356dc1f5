// Package bootstrap wires the storage connections, repositories, and
// adapter registry shared by every cmd/ entry point. The teacher repo
// duplicates this init sequence across cmd/worker, cmd/server and
// cmd/backfill; this module has seven thin binaries instead of three, so
// the sequence is factored once here and every main.go except
// cmd/migrate's calls Connect.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/confluence-watch/internal/adapter"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/storage"
	"github.com/confluence-watch/internal/types"
)

// Deps holds every connection and repository a job binary needs. Close
// releases all three storage connections; call it in a defer right after
// Connect succeeds.
type Deps struct {
	Postgres   *storage.PostgresDB
	ClickHouse *storage.ClickHouseDB
	Redis      *storage.RedisCache
	Cache      *storage.CacheService

	Tokens      *storage.TokenRepository
	Wallets     *storage.WalletRepository
	Trades      *storage.TradeRepository
	WalletStats *storage.WalletStatsRepository
	Watchlist   *storage.WatchlistRepository
	Alerts      *storage.AlertRepository

	Registry *adapter.Registry
	Chains   []types.ChainID
}

// Connect opens Postgres, ClickHouse and Redis, builds every repository,
// and assembles the adapter registry from cfg.Chains/cfg.Upstream. Callers
// get a registry that is fully populated and ready to be treated as
// read-only, per spec §9's "no mutation after init" global-state rule.
func Connect(cfg *config.Config) (*Deps, error) {
	pg, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}

	rc, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		pg.Close()
		_ = ch.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	d := &Deps{
		Postgres:   pg,
		ClickHouse: ch,
		Redis:      rc,
		Cache:      storage.NewCacheService(rc, cfg.Upstream.PriceCacheTTL),
	}

	d.Tokens = storage.NewTokenRepository(pg)
	d.Wallets = storage.NewWalletRepository(pg)
	d.Trades = storage.NewTradeRepository(ch)
	d.WalletStats = storage.NewWalletStatsRepository(pg)
	d.Watchlist = storage.NewWatchlistRepository(pg)
	d.Alerts = storage.NewAlertRepository(pg)

	d.Chains = chainIDs(cfg.Chains.Enabled)
	d.Registry = buildRegistry(cfg, d.Chains)

	return d, nil
}

// Close releases the three storage connections, logging (not failing) on
// error, since a binary is already on its way out when Close is called.
func (d *Deps) Close() {
	d.Postgres.Close()
	if err := d.ClickHouse.Close(); err != nil {
		logging.WithError(err).Warn("bootstrap: error closing clickhouse connection")
	}
	if err := d.Redis.Close(); err != nil {
		logging.WithError(err).Warn("bootstrap: error closing redis connection")
	}
}

// Ping verifies all three storage backends are reachable, used by
// cmd/allinone's /ready endpoint.
func (d *Deps) Ping(ctx context.Context) error {
	if err := d.Postgres.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := d.ClickHouse.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	if err := d.Redis.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// chainIDs maps the configured chain name strings onto types.ChainID,
// skipping anything this module doesn't recognize rather than failing
// startup over one typo in CHAINS.
func chainIDs(names []string) []types.ChainID {
	known := map[string]types.ChainID{
		string(types.ChainEthereum): types.ChainEthereum,
		string(types.ChainBase):     types.ChainBase,
		string(types.ChainArbitrum): types.ChainArbitrum,
		string(types.ChainSolana):   types.ChainSolana,
	}
	var out []types.ChainID
	for _, name := range names {
		if c, ok := known[name]; ok {
			out = append(out, c)
		} else {
			logging.Warnf("bootstrap: skipping unknown chain %q", name)
		}
	}
	return out
}

// buildRegistry populates an adapter.Registry per spec §4.1: one or more
// TrendingSources and a TransferSource per enabled chain, a safety source
// on EVM chains, and the chain-agnostic PriceSource fallback order.
func buildRegistry(cfg *config.Config, chains []types.ChainID) *adapter.Registry {
	reg := adapter.NewRegistry()

	reg.AddPrice(adapter.NewDexScreenerPriceSource())
	if cfg.Upstream.BirdeyeAPIKey != "" {
		reg.AddPrice(adapter.NewBirdeyePriceSource(cfg.Upstream.BirdeyeAPIKey))
	}

	for _, chain := range chains {
		chainCfg, ok := cfg.Chains.Chains[string(chain)]
		if !ok || chainCfg.RPCPrimary == "" {
			logging.Warnf("bootstrap: chain %s enabled but no RPC endpoint configured, skipping transfer adapter", chain)
			continue
		}

		reg.AddTrending(chain, adapter.NewDexScreenerTrendingSource())

		if chain.IsEVM() {
			if cfg.Upstream.EtherscanAPIKey != "" {
				reg.AddTrending(chain, adapter.NewEtherscanTrendingSource(cfg.Upstream.EtherscanAPIKey, "https://api.etherscan.io/api"))
			}
			reg.AddSafety(chain, adapter.NewHoneypotSafetySource("https://api.honeypot.is/v2/IsHoneypot"))

			txAdapter, err := adapter.NewEVMTransferAdapter(chain, chainCfg.RPCPrimary, nil)
			if err != nil {
				logging.WithFields(map[string]interface{}{"chain": chain}).WithError(err).Error("bootstrap: failed to build EVM transfer adapter")
				continue
			}
			reg.AddTransfer(chain, txAdapter)
			continue
		}

		reg.AddTransfer(chain, adapter.NewSolanaTransferAdapter(chainCfg.RPCPrimary))
	}

	return reg
}
