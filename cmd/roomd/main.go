package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"unison/internal/catalog"
	"unison/internal/config"
	"unison/internal/metadata"
	"unison/internal/server"
	"unison/internal/store"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	logger, err = cfg.Logging.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("Error configuring logger")
	}

	// Check if music directory exists
	if _, err := os.Stat(cfg.Library.Path); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.Path).Fatal("Music directory does not exist. Please create it and add your music files.")
	}

	// Room records survive restarts in SQLite
	db, err := store.OpenSQLite(cfg.Database.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing database")
	}
	defer db.Close()

	hub, err := store.NewHub(db, nil, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error loading rooms")
	}

	extractor := metadata.NewExtractor(cfg.Library.SupportedFormats, logger)
	library := catalog.New(cfg.Library, extractor, nil, logger)
	roomServer := server.NewRoomServer(cfg, hub, library, extractor, logger, server.WithDatabase(db))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := roomServer.Start(ctx); err != nil {
		logger.WithError(err).Error("Room server failed")
		return
	}
	logger.Info("Room server stopped")
}
