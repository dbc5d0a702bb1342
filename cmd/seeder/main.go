// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatcher/internal/config"
	"github.com/unclebandit/campaign-dispatcher/internal/db"
	"github.com/unclebandit/campaign-dispatcher/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	migrations := flag.String("migrations", "migrations", "directory with schema files")
	seed := flag.String("seed", "seed", "directory with seed data, empty to skip")
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

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal("Failed to connect", zap.Error(err))
	}
	defer conn.Close()

	if err := db.ExecFiles(ctx, conn, *migrations, log); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
	if *seed != "" {
		if err := db.ExecFiles(ctx, conn, *seed, log); err != nil {
			log.Fatal("Seeding failed", zap.Error(err))
		}
	}
	log.Info("Database seeding completed successfully")
}
