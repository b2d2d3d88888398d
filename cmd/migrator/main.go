package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/data/migrations"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/platform/paths"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	flag.Parse()

	log.Configure(log.Config{Pretty: true, Service: "camviewer-migrator"})
	logger := log.WithComponent("migrator")

	// 1. Resolve the store the viewer would use
	path := paths.ResolveConfigPath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}
	if cfg.Storage.Driver == data.DriverSQLite || cfg.Storage.Driver == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0750); err != nil {
			logger.Fatal().Err(err).Msg("failed to create database directory")
		}
	}

	// 2. Init Migrate
	m, err := migrations.New(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize migrate")
	}
	defer m.Close()

	// 3. Run Commands
	start := time.Now()
	switch {
	case *upCmd:
		logger.Info().Msg("running up migrations")
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("migration up failed")
		}
	case *downCmd:
		logger.Info().Msg("running down migrations")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("migration down failed")
		}
	case *stepsCmd != 0:
		logger.Info().Int("steps", *stepsCmd).Msg("running migration steps")
		if err := m.Steps(*stepsCmd); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("migration steps failed")
		}
	default:
		logger.Info().Msg("no command specified, use -up, -down or -steps")
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Info().Err(err).Msg("no version found (empty db?)")
	} else {
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("current version")
	}
	logger.Info().Dur("duration", time.Since(start)).Str("driver", cfg.Storage.Driver).Msg("done")
}
