package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/technosupport/ts-camviewer/internal/app"
	"github.com/technosupport/ts-camviewer/internal/broker"
	"github.com/technosupport/ts-camviewer/internal/config"
	"github.com/technosupport/ts-camviewer/internal/data"
	"github.com/technosupport/ts-camviewer/internal/data/migrations"
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/platform/paths"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (default: <data root>/config.yaml)")
	pretty := flag.Bool("pretty", false, "Human-readable log output")
	flag.Parse()

	// 1. Config
	path := paths.ResolveConfigPath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		log.Configure(log.Config{Pretty: true})
		logger := log.WithComponent("main")
		logger.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}

	// 2. Logging
	log.Configure(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty || *pretty, Service: "camviewer"})
	logger := log.WithComponent("main")

	// 3. Platform paths
	if err := paths.EnsureDirs(paths.ResolveDataRoot()); err != nil {
		logger.Fatal().Err(err).Msg("platform init failed")
	}
	if cfg.Storage.Driver == data.DriverSQLite || cfg.Storage.Driver == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0750); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("failed to create database directory")
		}
	}

	// 4. Storage
	if err := migrations.Up(cfg.Storage); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}
	db, err := data.Open(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open event store")
	}
	defer db.Close()
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("event store ready")

	// 5. Broker
	client, topics, err := broker.New(cfg.Broker)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid broker config")
	}

	// 6. Run
	a := app.New(app.Options{
		Config:     cfg,
		ConfigPath: path,
		Store:      data.NewEventStore(db, cfg.Storage.Driver),
		Engine:     newEngine(),
		Broker:     client,
		Topics:     topics,
	})

	logger.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("broker", cfg.Broker.URL).
		Strs("cameras", cfg.CameraNames()).
		Msg("camviewer starting")

	if err := a.Run(context.Background()); err != nil {
		logger.Error().Err(err).Msg("camviewer stopped with error")
		db.Close()
		os.Exit(1)
	}
	logger.Info().Msg("camviewer stopped")
}
