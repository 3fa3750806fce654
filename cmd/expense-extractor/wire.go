package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/expense-extractor/internal/config"
	"github.com/zombor/expense-extractor/internal/extraction"
	"github.com/zombor/expense-extractor/internal/normalize"
	"github.com/zombor/expense-extractor/internal/pipeline"
	"github.com/zombor/expense-extractor/internal/scanning"
)

// buildPipeline constructs every backend once. The returned func releases
// the completion provider.
func buildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	var vision *scanning.Vision
	if cfg.OCR.VisionEnabled {
		slog.Info("Initializing Cloud Vision...", "language_hints", cfg.OCR.VisionLanguageHints)
		v, err := scanning.NewVision(ctx, scanning.VisionOptions{
			APIKey:          cfg.OCR.VisionAPIKey,
			CredentialsFile: cfg.OCR.VisionCredentials,
			LanguageHints:   cfg.OCR.VisionLanguageHints,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initializing vision: %w", err)
		}
		vision = v
	}

	cascade := scanning.NewCascade(scanning.CascadeOptions{
		Vision:  vision,
		Local:   scanning.NewTesseract(cfg.OCR.TesseractLanguages, logger),
		Timeout: cfg.OCR.Timeout,
		Logger:  logger,
	})

	var rasterizer scanning.Rasterizer
	switch cfg.OCR.Rasterizer {
	case "pdftoppm":
		rasterizer = scanning.PopplerRasterizer{
			Binary: cfg.OCR.PDFToPPM,
			DPI:    cfg.OCR.DPI,
			Runner: scanning.ExecRunner{},
		}
	default:
		rasterizer = scanning.FitzRasterizer{DPI: float64(cfg.OCR.DPI)}
	}
	pdf := scanning.NewPDFExtractor(scanning.LayerReader{}, rasterizer, cascade, logger)

	slog.Info("Initializing completion provider...", "provider", cfg.Model.Provider, "model", cfg.Model.Name)
	completer, err := extraction.NewCompleter(ctx, extraction.ProviderConfig{
		Provider: cfg.Model.Provider,
		Model:    cfg.Model.Name,
		APIKey:   cfg.Model.APIKey,
		BaseURL:  cfg.Model.BaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing %s: %w", cfg.Model.Provider, err)
	}
	engine := extraction.NewEngine(completer, extraction.EngineOptions{
		Timeout:  cfg.Model.Timeout,
		Attempts: cfg.Model.Attempts,
		Logger:   logger,
	})

	p := pipeline.New(pipeline.Config{
		OCR:        cascade,
		PDF:        pdf,
		Extractor:  engine,
		Normalizer: normalize.New(cfg.DefaultCurrency),
		Logger:     logger,
	})

	slog.Info("Pipeline ready",
		"ocr", cascade.Methods(),
		"rasterizer", cfg.OCR.Rasterizer,
		"model", engine.Enabled(),
		"default_currency", cfg.DefaultCurrency,
	)

	cleanup := func() {
		if err := engine.Close(); err != nil {
			slog.Warn("Failed to close completion provider", "error", err)
		}
	}
	return p, cleanup, nil
}
