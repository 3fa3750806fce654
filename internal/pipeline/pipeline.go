// Package pipeline composes routing, OCR, model extraction, reconciliation and
// normalization into a single Process call and applies the failure taxonomy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/extraction"
	"github.com/zombor/expense-extractor/internal/failure"
	"github.com/zombor/expense-extractor/internal/normalize"
	"github.com/zombor/expense-extractor/internal/reconcile"
	"github.com/zombor/expense-extractor/internal/scanning"
)

// ErrEmptyDocument is returned when a document has no bytes.
var ErrEmptyDocument = errors.New("empty document")

// Options are the per-call inputs beyond the document itself.
type Options struct {
	// CurrencyHint is the caller's best guess at the user's currency, e.g. "INR".
	CurrencyHint string
	// Source describes the earlier read of text passed to ProcessText.
	Source *Source
}

// Source is the OCR read that produced previously extracted text. Its
// confidence caps a re-extraction the same way it capped the first run.
type Source struct {
	Method     expense.Method
	Confidence float64
}

// Extractor is the model step.
type Extractor interface {
	Enabled() bool
	Extract(ctx context.Context, text, currencyHint string) (expense.Candidate, error)
}

// PDFReader turns PDF bytes into text.
type PDFReader interface {
	Extract(ctx context.Context, pdf []byte) (expense.OCRResult, error)
}

// Config wires a Pipeline. Every collaborator is built once at process start.
type Config struct {
	OCR        scanning.Recognizer
	PDF        PDFReader
	Extractor  Extractor
	Normalizer *normalize.Normalizer
	Logger     *slog.Logger
}

// Pipeline is safe for concurrent use; invocations share nothing but counters.
type Pipeline struct {
	ocr        scanning.Recognizer
	pdf        PDFReader
	extractor  Extractor
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	stats      counters
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		ocr:        cfg.OCR,
		pdf:        cfg.PDF,
		extractor:  cfg.Extractor,
		normalizer: cfg.Normalizer,
		logger:     cfg.Logger,
	}
	if p.normalizer == nil {
		p.normalizer = normalize.New(normalize.FallbackCurrency)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

type state int

const (
	stateRoute state = iota
	stateOCR
	stateModel
	stateFallback
	stateNormalize
	stateDone
	stateServiceFailure
)

// run carries one invocation through the state machine.
type run struct {
	doc       expense.Document
	hint      string
	path      scanning.Path
	ocr       expense.OCRResult
	ocrErr    error
	candidate expense.Candidate
	record    *expense.Record
	fallback  bool
	warnings  []string
}

func (r *run) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// Process runs a document through the pipeline. The error is non-nil only for
// caller mistakes: an empty document or an unsupported MIME type. Backend
// failures are reported through Result.ErrorType.
func (p *Pipeline) Process(ctx context.Context, doc expense.Document, opts Options) (expense.Result, error) {
	if len(doc.Data) == 0 {
		return expense.Result{}, ErrEmptyDocument
	}
	if _, err := scanning.Route(doc.MIMEType); err != nil {
		return expense.Result{}, err
	}

	p.stats.documents.Add(1)
	r := &run{doc: doc, hint: opts.CurrencyHint}
	return p.drive(ctx, r, stateRoute), nil
}

// ProcessText re-extracts a record from text that was already read, such as a
// stored originalText. It skips routing and OCR. Without opts.Source the text
// is treated as exact.
func (p *Pipeline) ProcessText(ctx context.Context, text string, opts Options) expense.Result {
	p.stats.documents.Add(1)
	text = strings.TrimSpace(text)
	r := &run{
		hint: opts.CurrencyHint,
		ocr: expense.OCRResult{
			Success:    text != "",
			Text:       text,
			Method:     expense.MethodProvided,
			WordCount:  len(strings.Fields(text)),
			Confidence: 1,
		},
	}
	if src := opts.Source; src != nil && text != "" {
		if src.Method != "" {
			r.ocr.Method = src.Method
		}
		r.ocr.Confidence = min(max(src.Confidence, 0), 1)
	}
	if text == "" {
		r.ocr.Confidence = 0
	}
	return p.drive(ctx, r, p.afterOCR(r))
}

func (p *Pipeline) drive(ctx context.Context, r *run, s state) expense.Result {
	for {
		switch s {
		case stateRoute:
			s = p.route(r)
		case stateOCR:
			s = p.recognize(ctx, r)
		case stateModel:
			s = p.model(ctx, r)
		case stateFallback:
			s = p.basic(r)
		case stateNormalize:
			s = p.normalizeRecord(r)
		case stateServiceFailure:
			return p.serviceFailure(r)
		case stateDone:
			return p.done(r)
		}
	}
}

func (p *Pipeline) route(r *run) state {
	path, _ := scanning.Route(r.doc.MIMEType)
	r.path = path
	p.logger.Debug("routed document", "path", path, "mime", r.doc.MIMEType, "filename", r.doc.Filename)
	return stateOCR
}

func (p *Pipeline) recognize(ctx context.Context, r *run) state {
	switch r.path {
	case scanning.PathPDF:
		if p.pdf == nil {
			r.warn("no PDF reader configured")
			break
		}
		r.ocr, r.ocrErr = p.pdf.Extract(ctx, r.doc.Data)
	default:
		if p.ocr == nil {
			r.warn("no OCR backend configured")
			break
		}
		img, err := scanning.PrepareImage(r.doc.Data, r.doc.MIMEType)
		if err != nil {
			p.logger.Warn("preparing image", "error", err)
			r.warn("image could not be decoded: %v", err)
			break
		}
		r.ocr, r.ocrErr = p.ocr.Recognize(ctx, img)
	}
	p.stats.method(r.ocr.Method)

	if r.ocrErr != nil && failure.IsService(r.ocrErr) {
		return stateServiceFailure
	}
	if r.ocrErr != nil {
		r.warn("text extraction failed: %v", r.ocrErr)
	}
	return p.afterOCR(r)
}

// afterOCR chooses between the model and the heuristic fallback.
func (p *Pipeline) afterOCR(r *run) state {
	text := strings.TrimSpace(r.ocr.Text)
	switch {
	case !r.ocr.Success || len(text) < scanning.MinTextLength:
		r.warn("too little text for model extraction (%d characters)", len(text))
		return stateFallback
	case r.ocr.Placeholder:
		r.warn("OCR returned a placeholder")
		return stateFallback
	case p.extractor == nil || !p.extractor.Enabled():
		r.warn("no model configured")
		return stateFallback
	}
	return stateModel
}

func (p *Pipeline) model(ctx context.Context, r *run) state {
	candidate, err := p.extractor.Extract(ctx, r.ocr.Text, r.hint)
	if err != nil {
		p.stats.modelFailures.Add(1)
		class := failure.ClassOf(err)
		if errors.Is(err, extraction.ErrMalformedResponse) {
			class = failure.DataQualityFailure
		}
		p.logger.Warn("model extraction failed, using fallback", "class", class, "error", err)
		r.warn("model extraction failed (%s): %v", class, err)
		return stateFallback
	}
	p.stats.modelExtractions.Add(1)
	r.candidate = candidate
	return stateNormalize
}

func (p *Pipeline) basic(r *run) state {
	p.stats.fallbacks.Add(1)
	rec := extraction.Basic(p.normalizer, r.ocr.Text, r.hint)
	r.record = &rec
	r.fallback = true
	p.logger.Info("basic extraction used", "total", rec.Total != nil, "merchant", rec.Merchant != nil)
	return stateDone
}

func (p *Pipeline) normalizeRecord(r *run) state {
	rec := p.normalizer.Record(r.candidate, r.ocr.Text, r.hint)
	outcome := reconcile.Record(&rec)
	if outcome.Mismatch {
		p.stats.reconcileMismatches.Add(1)
		p.logger.Warn("amounts do not reconcile", "nulled", outcome.Nulled)
	}
	r.warnings = append(r.warnings, outcome.Warnings...)
	r.record = &rec
	return stateDone
}

func (p *Pipeline) serviceFailure(r *run) expense.Result {
	p.stats.serviceFailures.Add(1)
	p.logger.Error("service failure during text extraction", "error", r.ocrErr)
	r.warn("text extraction service unavailable: %v", r.ocrErr)
	return expense.Result{
		Success:   false,
		ErrorType: failure.ServiceFailure,
		OCR:       r.ocr,
		Warnings:  r.warnings,
	}
}

func (p *Pipeline) done(r *run) expense.Result {
	res := expense.Result{
		Success:           true,
		OCR:               r.ocr,
		Extraction:        r.record,
		OverallConfidence: r.record.Confidence,
		UsedFallback:      r.fallback,
		Warnings:          r.warnings,
	}
	if r.ocr.Success {
		res.OverallConfidence = min(res.OverallConfidence, r.ocr.Confidence)
	}
	if r.fallback {
		res.ErrorType = failure.DataQualityFailure
	}
	return res
}
