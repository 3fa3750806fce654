package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zombor/expense-extractor/internal/config"
	"github.com/zombor/expense-extractor/internal/receipt"
)

func serve(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	logger, err := setup(cfg, stderr)
	if err != nil {
		return err
	}

	slog.Info("Initializing database...", "path", cfg.Server.DBPath)
	db, err := receipt.NewBoltDB(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	slog.Info("Initializing storage...", "path", cfg.Server.StorageDir)
	store, err := receipt.NewLocalStorage(cfg.Server.StorageDir)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	p, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	service := receipt.NewService(db, p, store)
	server := receipt.NewServer(service, receipt.ServerOptions{
		Auth: receipt.BasicAuth{
			Username: cfg.Server.AuthUser,
			Password: cfg.Server.AuthPass,
		},
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	if cfg.Server.AuthUser != "" {
		slog.Info("Basic auth enabled", "user", cfg.Server.AuthUser)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if err := server.Start(ctx, addr); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	slog.Info("Shut down")
	return nil
}
