// cmd/worker/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatcher/internal/app"
	"github.com/unclebandit/campaign-dispatcher/internal/config"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
)

// The worker runs the dispatch loop and the scheduler. Several workers may
// run side by side: each tick only proceeds while holding its lock.
func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	if cfg.Store.Driver == "memory" {
		log.Fatal("The worker needs a shared store, use STORE_DRIVER=postgres or run the server with the memory store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	log.Info("Worker running",
		zap.Duration("dispatchInterval", cfg.Engine.DispatchInterval),
		zap.Duration("schedulerInterval", cfg.Engine.SchedulerInterval),
		zap.Bool("redisLocks", application.Redis != nil))
	application.RunEngine(ctx)
	log.Info("Worker stopped")
}
