package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/zombor/expense-extractor/internal/expense"
)

// TextLayerReader extracts the embedded text of a PDF.
type TextLayerReader interface {
	ReadText(pdfData []byte) (text string, pages int, err error)
}

// LayerReader reads PDF text layers with ledongthuc/pdf, row by row.
type LayerReader struct{}

// ReadText concatenates the text rows of every page
func (LayerReader) ReadText(pdfData []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(pdfData), int64(len(pdfData)))
	if err != nil {
		return "", 0, fmt.Errorf("opening PDF: %w", err)
	}

	var b strings.Builder
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", numPages, fmt.Errorf("reading page %d: %w", i, err)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				words = append(words, word.S)
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteString("\n")
		}
	}
	return b.String(), numPages, nil
}

// PDFExtractor reads a PDF's text layer, falling back to OCR of page 1 when
// the layer is empty or too short.
type PDFExtractor struct {
	reader     TextLayerReader
	rasterizer Rasterizer
	ocr        Recognizer
	logger     *slog.Logger
}

// NewPDFExtractor wires a PDFExtractor. reader defaults to LayerReader and
// rasterizer to FitzRasterizer.
func NewPDFExtractor(reader TextLayerReader, rasterizer Rasterizer, ocr Recognizer, logger *slog.Logger) *PDFExtractor {
	if reader == nil {
		reader = LayerReader{}
	}
	if rasterizer == nil {
		rasterizer = FitzRasterizer{DPI: DefaultDPI}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{reader: reader, rasterizer: rasterizer, ocr: ocr, logger: logger}
}

// Extract returns the PDF's text. An error is returned only when the OCR
// cascade aborts with a service failure.
func (p *PDFExtractor) Extract(ctx context.Context, pdfData []byte) (expense.OCRResult, error) {
	meta := map[string]any{}
	if n, err := api.PageCount(bytes.NewReader(pdfData), nil); err == nil {
		meta["pageCount"] = n
	} else {
		p.logger.Debug("pdfcpu could not count pages", "error", err)
	}

	text, _, err := p.reader.ReadText(pdfData)
	if err != nil {
		p.logger.Warn("reading PDF text layer", "error", err)
		meta["textLayerError"] = err.Error()
	}
	text = strings.TrimSpace(text)
	if len(text) >= MinTextLength {
		meta["source"] = "text_layer"
		return expense.OCRResult{
			Success:    true,
			Text:       text,
			Confidence: 1,
			Method:     expense.MethodPDFText,
			WordCount:  len(strings.Fields(text)),
			Metadata:   meta,
		}, nil
	}

	p.logger.Info("PDF text layer too short, rasterizing page 1", "chars", len(text))
	img, err := p.rasterizer.RasterizeFirstPage(ctx, pdfData)
	if err != nil {
		p.logger.Warn("rasterizing PDF", "error", err)
		meta["rasterError"] = err.Error()
		return expense.FailedOCR(expense.MethodPDFOCR, meta), nil
	}

	res, err := p.ocr.Recognize(ctx, img)
	// keep the image OCR's own metadata and record which method produced it
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	for k, v := range meta {
		if _, ok := res.Metadata[k]; !ok {
			res.Metadata[k] = v
		}
	}
	res.Metadata["imageMethod"] = string(res.Method)
	res.Method = expense.MethodPDFOCR
	return res, err
}
