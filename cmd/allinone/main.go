// Package main runs every pipeline stage (C2 ingest, C3 discovery, C6
// stats, C7 watchlist, C8 monitor) inside a single process, alongside a
// small HTTP surface for health and scheduler status. Useful for local
// development and small deployments where running five separate
// binaries is overkill; production deployments should prefer the
// per-stage cmd/ binaries so each stage scales and restarts
// independently.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/confluence-watch/internal/alert"
	"github.com/confluence-watch/internal/bootstrap"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/confluence"
	"github.com/confluence-watch/internal/discovery"
	"github.com/confluence-watch/internal/ingest"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/monitor"
	"github.com/confluence-watch/internal/price"
	"github.com/confluence-watch/internal/scheduler"
	"github.com/confluence-watch/internal/stats"
	"github.com/confluence-watch/internal/types"
	"github.com/confluence-watch/internal/watchlist"
	"github.com/gorilla/mux"
)

func main() {
	fmt.Println("Confluence Watch All-in-One")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	deps, err := bootstrap.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to storage: %v", err)
	}
	defer deps.Close()

	if len(deps.Chains) == 0 {
		log.Fatal("No chains enabled with a usable RPC endpoint; check CHAINS and *_RPC_PRIMARY")
	}

	enricher := price.NewEnricher(deps.Registry, deps.Cache, deps.Trades, cfg.Upstream.PriceCacheTTL)
	emitter := alert.NewLoggingEmitter()
	detector := confluence.NewDetector(deps.Redis, deps.Alerts, emitter, cfg.Confluence.Window, cfg.Confluence.MinConfluence)

	ingestJob := ingest.NewJob(deps.Registry, deps.Tokens, cfg.Safety, deps.Chains, cfg.Scheduler.WorkerPoolSize)
	discoveryJob := discovery.NewJob(deps.Registry, deps.Tokens, deps.Wallets, deps.Trades, enricher, deps.Chains, cfg.Chains, cfg.Intervals.DiscoveryLookbackHours, cfg.Safety.PoolSendThreshold, cfg.Scheduler.WorkerPoolSize)
	statsJob := stats.NewJob(deps.Trades, deps.WalletStats, deps.Wallets, enricher, deps.Chains, cfg.Scheduler.WorkerPoolSize)
	monitorJob := monitor.NewJob(deps.Registry, deps.Watchlist, deps.Trades, deps.Tokens, detector, cfg.Safety, deps.Chains, cfg.Safety.PoolSendThreshold, cfg.Scheduler.WorkerPoolSize)
	maintainer := watchlist.NewMaintainer(deps.WalletStats, deps.Watchlist, detector, cfg.Watchlist, deps.Chains)

	sched := scheduler.New(cfg.Scheduler.WorkerPoolSize)
	sched.Register(ingestJob, cfg.Intervals.Ingest)
	sched.Register(discoveryJob, cfg.Intervals.Discover)
	sched.Register(statsJob, cfg.Intervals.Stats)
	sched.Register(monitorJob, cfg.Intervals.Monitor)

	runAt, err := time.Parse("15:04", cfg.Intervals.WatchlistAt)
	if err != nil {
		log.Fatalf("Invalid WATCHLIST_RUN_AT %q: %v", cfg.Intervals.WatchlistAt, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	watchlistDone := make(chan struct{})
	go runWatchlistDaily(ctx, maintainer, runAt, watchlistDone)

	srv := newHTTPServer(cfg, deps)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.WithError(err).Error("allinone: http server stopped unexpectedly")
		}
	}()

	logging.Infof("all-in-one started: chains=%v http=%s:%s", deps.Chains, cfg.HTTP.Host, cfg.HTTP.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutdown signal received, stopping all-in-one...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.WithError(err).Warn("allinone: http server shutdown error")
	}
	shutdownCancel()

	cancel()
	sched.Stop()
	select {
	case <-sched.Done():
	case <-time.After(30 * time.Second):
		logging.Warn("allinone: scheduler did not stop within timeout, exiting anyway")
	}
	select {
	case <-watchlistDone:
	case <-time.After(30 * time.Second):
		logging.Warn("allinone: watchlist loop did not stop within timeout, exiting anyway")
	}
	logging.Info("all-in-one stopped. Goodbye!")
}

// runWatchlistDaily mirrors cmd/watchlist's standalone loop: C7 runs once
// a day at a configured wall-clock time, not on the interval scheduler.
func runWatchlistDaily(ctx context.Context, maintainer *watchlist.Maintainer, runAt time.Time, done chan struct{}) {
	defer close(done)
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), runAt.Hour(), runAt.Minute(), 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		runCtx, cancel := context.WithTimeout(ctx, time.Hour)
		if err := maintainer.Run(runCtx); err != nil {
			logging.WithError(err).Error("allinone: watchlist daily run failed")
		}
		cancel()
	}
}

// newHTTPServer builds the debug/health HTTP surface: liveness, storage
// readiness, and a snapshot of job names/intervals for operators.
func newHTTPServer(cfg *config.Config, deps *bootstrap.Deps) *http.Server {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := deps.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods("GET")

	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"chains": deps.Chains,
			"jobs": map[string]string{
				"ingest":    cfg.Intervals.Ingest.String(),
				"discover":  cfg.Intervals.Discover.String(),
				"stats":     cfg.Intervals.Stats.String(),
				"monitor":   cfg.Intervals.Monitor.String(),
				"watchlist": cfg.Intervals.WatchlistAt,
			},
			"pools": map[string]interface{}{
				"postgres":   deps.Postgres.PoolStats(),
				"clickhouse": deps.ClickHouse.PoolStats(),
			},
		})
	}).Methods("GET")

	router.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		chain := r.URL.Query().Get("chain")
		if chain == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chain query param required"})
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		alerts, err := deps.Alerts.RecentForChain(r.Context(), types.ChainID(chain), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	}).Methods("GET")

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.WithError(err).Warn("allinone: failed to encode http response")
	}
}
