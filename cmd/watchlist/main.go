// Package main runs C7, the Watchlist Maintainer, as a standalone
// process. Unlike the other jobs, C7 runs once per day at a configured
// wall-clock time rather than on a fixed interval, so it drives its own
// sleep-until-next-run loop instead of registering with the interval
// scheduler.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluence-watch/internal/bootstrap"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/confluence"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/watchlist"
)

func main() {
	fmt.Println("Confluence Watch Watchlist Maintainer")

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

	detector := confluence.NewDetector(deps.Redis, deps.Alerts, nil, cfg.Confluence.Window, cfg.Confluence.MinConfluence)
	maintainer := watchlist.NewMaintainer(deps.WalletStats, deps.Watchlist, detector, cfg.Watchlist, deps.Chains)

	runAt, err := time.Parse("15:04", cfg.Intervals.WatchlistAt)
	if err != nil {
		log.Fatalf("Invalid WATCHLIST_RUN_AT %q: %v", cfg.Intervals.WatchlistAt, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go runDaily(ctx, maintainer, runAt, done)

	logging.Infof("watchlist maintainer started: chains=%v run_at=%s", deps.Chains, cfg.Intervals.WatchlistAt)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutdown signal received, stopping watchlist maintainer...")

	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logging.Warn("watchlist: daily loop did not stop within timeout, exiting anyway")
	}
	logging.Info("watchlist maintainer stopped. Goodbye!")
}

// runDaily sleeps until the next occurrence of runAt's hour:minute, runs
// maintainer, then repeats, until ctx is cancelled.
func runDaily(ctx context.Context, maintainer *watchlist.Maintainer, runAt time.Time, done chan struct{}) {
	defer close(done)
	for {
		wait := time.Until(nextRun(runAt))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		runCtx, cancel := context.WithTimeout(ctx, time.Hour)
		if err := maintainer.Run(runCtx); err != nil {
			logging.WithError(err).Error("watchlist: daily run failed")
		}
		cancel()
	}
}

// nextRun returns the next wall-clock time matching runAt's hour:minute,
// today if that time hasn't passed yet, tomorrow otherwise.
func nextRun(runAt time.Time) time.Time {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), runAt.Hour(), runAt.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
