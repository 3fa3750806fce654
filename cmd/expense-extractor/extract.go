package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/expense-extractor/internal/config"
	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
	"github.com/zombor/expense-extractor/internal/pipeline"
)

type processor interface {
	Process(ctx context.Context, doc expense.Document, opts pipeline.Options) (expense.Result, error)
}

// line is one JSON line of extract output.
type line struct {
	File   string          `json:"file"`
	Result *expense.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func extract(ctx context.Context, cfg config.Config, hint string, paths []string, stdout, stderr io.Writer) error {
	if len(paths) == 0 {
		return errors.New("extract: at least one file is required")
	}
	logger, err := setup(cfg, stderr)
	if err != nil {
		return err
	}

	p, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	failed, err := extractFiles(ctx, p, paths, strings.ToUpper(hint), cfg.Concurrency, stdout)
	if err != nil {
		return err
	}

	stats, _ := json.Marshal(p.Stats())
	slog.Info("Extraction finished", "files", len(paths), "failed", failed, "stats", string(stats))
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}

// extractFiles processes paths with at most limit in flight and writes one
// line per file as each finishes. Per-file problems are reported in the
// output and counted, not returned.
func extractFiles(ctx context.Context, p processor, paths []string, hint string, limit int, out io.Writer) (int, error) {
	var (
		mu     sync.Mutex
		failed int
		enc    = json.NewEncoder(out)
	)

	emit := func(l line, bad bool) error {
		mu.Lock()
		defer mu.Unlock()
		if bad {
			failed++
		}
		return enc.Encode(l)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for _, path := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return emit(line{File: path, Error: err.Error()}, true)
			}

			doc := expense.Document{Data: data, MIMEType: mimeFor(path), Filename: filepath.Base(path)}
			res, err := p.Process(ctx, doc, pipeline.Options{CurrencyHint: hint})
			if err != nil {
				return emit(line{File: path, Error: err.Error()}, true)
			}
			return emit(line{File: path, Result: &res}, res.ErrorType == failure.ServiceFailure)
		})
	}

	err := g.Wait()
	return failed, err
}

// mimeFor guesses a MIME type from the file extension.
func mimeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
