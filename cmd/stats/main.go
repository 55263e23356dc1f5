// Package main runs C6, the Stats Roller, as a standalone process.
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
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/price"
	"github.com/confluence-watch/internal/scheduler"
	"github.com/confluence-watch/internal/stats"
)

func main() {
	fmt.Println("Confluence Watch Stats Roller")

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

	job := stats.NewJob(deps.Trades, deps.WalletStats, deps.Wallets, enricher, deps.Chains, cfg.Scheduler.WorkerPoolSize)

	sched := scheduler.New(cfg.Scheduler.WorkerPoolSize)
	sched.Register(job, cfg.Intervals.Stats)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	logging.Infof("stats roller started: chains=%v interval=%s", deps.Chains, cfg.Intervals.Stats)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutdown signal received, stopping stats roller...")

	cancel()
	sched.Stop()
	select {
	case <-sched.Done():
	case <-time.After(30 * time.Second):
		logging.Warn("stats: scheduler did not stop within timeout, exiting anyway")
	}
	logging.Info("stats roller stopped. Goodbye!")
}
