// Package main runs C8, the Wallet Monitor, as a standalone process.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluence-watch/internal/alert"
	"github.com/confluence-watch/internal/bootstrap"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/confluence"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/monitor"
	"github.com/confluence-watch/internal/scheduler"
)

func main() {
	fmt.Println("Confluence Watch Wallet Monitor")

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

	emitter := alert.NewLoggingEmitter()
	detector := confluence.NewDetector(deps.Redis, deps.Alerts, emitter, cfg.Confluence.Window, cfg.Confluence.MinConfluence)

	job := monitor.NewJob(deps.Registry, deps.Watchlist, deps.Trades, deps.Tokens, detector, cfg.Safety, deps.Chains, cfg.Safety.PoolSendThreshold, cfg.Scheduler.WorkerPoolSize)

	sched := scheduler.New(cfg.Scheduler.WorkerPoolSize)
	sched.Register(job, cfg.Intervals.Monitor)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	logging.Infof("wallet monitor started: chains=%v interval=%s", deps.Chains, cfg.Intervals.Monitor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutdown signal received, stopping wallet monitor...")

	cancel()
	sched.Stop()
	select {
	case <-sched.Done():
	case <-time.After(30 * time.Second):
		logging.Warn("monitor: scheduler did not stop within timeout, exiting anyway")
	}
	logging.Info("wallet monitor stopped. Goodbye!")
}
