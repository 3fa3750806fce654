// Package receipt stores processed receipts and exposes them over HTTP.
package receipt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
	"github.com/zombor/expense-extractor/internal/pipeline"
)

var (
	// ErrServiceUnavailable means an extraction backend is down and the
	// upload should be retried later. Nothing is stored.
	ErrServiceUnavailable = errors.New("extraction service unavailable")

	// ErrNoText is returned when re-extracting a receipt that kept no text.
	ErrNoText = errors.New("receipt has no stored text")
)

// Processor runs documents through the extraction pipeline
type Processor interface {
	Process(ctx context.Context, doc expense.Document, opts pipeline.Options) (expense.Result, error)
	ProcessText(ctx context.Context, text string, opts pipeline.Options) expense.Result
	Stats() pipeline.Stats
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	processor   Processor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID IDs and the wall clock
func NewService(db DB, processor Processor, storage Storage) *Service {
	return NewServiceWithDeps(db, processor, storage, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, processor Processor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		processor:   processor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// ProcessReceipt stores the upload, runs it through the pipeline and saves the
// outcome. A service failure is returned as ErrServiceUnavailable and nothing
// is kept, so the caller can retry later.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType, currencyHint string) (*Receipt, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	doc := expense.Document{Data: data, MIMEType: contentType, Filename: filename}
	res, err := s.processor.Process(ctx, doc, pipeline.Options{CurrencyHint: currencyHint})
	if err != nil {
		s.discard(savedPath)
		return nil, fmt.Errorf("processing receipt: %w", err)
	}
	if res.ErrorType == failure.ServiceFailure {
		slog.Error("Extraction service unavailable",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"warnings", res.Warnings,
		)
		s.discard(savedPath)
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, strings.Join(res.Warnings, "; "))
	}

	receipt := &Receipt{
		ID:           id,
		Filename:     savedPath,
		ContentType:  contentType,
		CurrencyHint: currencyHint,
		CreatedAt:    now,
	}
	receipt.apply(res, now)

	if err := s.db.SaveReceipt(receipt); err != nil {
		s.discard(savedPath)
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Processed receipt",
		"id", id,
		"ocr_method", receipt.OCRMethod,
		"confidence", receipt.Confidence,
		"fallback", receipt.UsedFallback,
	)
	return receipt, nil
}

func (s *Service) discard(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// ReextractReceipt runs extraction again on the stored text without repeating OCR.
// The stored OCR read still caps the confidence.
func (s *Service) ReextractReceipt(ctx context.Context, id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Record == nil || strings.TrimSpace(receipt.Record.OriginalText) == "" {
		return nil, ErrNoText
	}

	source := pipeline.Source{Method: receipt.OCRMethod, Confidence: receipt.OCRConfidence}
	res := s.processor.ProcessText(ctx, receipt.Record.OriginalText, pipeline.Options{
		CurrencyHint: receipt.CurrencyHint,
		Source:       &source,
	})
	receipt.apply(res, s.timeSource.Now())
	receipt.OCRMethod, receipt.OCRConfidence = source.Method, source.Confidence

	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	slices.SortStableFunc(receipts, func(a, b *Receipt) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	// the record goes even if the file is already gone
	s.discard(receipt.Filename)

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the original upload for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

// Stats reports the pipeline counters since start-up
func (s *Service) Stats() pipeline.Stats {
	return s.processor.Stats()
}
