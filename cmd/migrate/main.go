package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"shopledger/backend/internal/config"
	"shopledger/backend/internal/logger"
	"shopledger/backend/internal/migration"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	steps := flag.Int("steps", 0, "apply n migrations (negative rolls back)")
	version := flag.Bool("version", false, "print the current schema version")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	m, err := migration.New(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("open migrator", zap.Error(err))
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()

	switch {
	case *version:
		v, dirty, err := m.Version()
		if err != nil {
			log.Error("read version", zap.Error(err))
			os.Exit(1)
		}
		log.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	case *down:
		err = m.Down()
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}
	if err != nil {
		log.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}
}
