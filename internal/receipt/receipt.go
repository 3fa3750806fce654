package receipt

import (
	"time"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
)

// Receipt is a processed upload with its extracted record
type Receipt struct {
	ID            string          `json:"id"`
	Filename      string          `json:"filename"`
	ContentType   string          `json:"content_type"`
	CurrencyHint  string          `json:"currency_hint,omitempty"`
	Record        *expense.Record `json:"record"`
	OCRMethod     expense.Method  `json:"ocr_method"`
	OCRConfidence float64         `json:"ocr_confidence"`
	Confidence    float64         `json:"confidence"`
	ErrorType     failure.Class   `json:"error_type,omitempty"`
	UsedFallback  bool            `json:"used_fallback"`
	Warnings      []string        `json:"warnings,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// apply copies the outcome of a pipeline run onto the receipt.
func (r *Receipt) apply(res expense.Result, now time.Time) {
	r.Record = res.Extraction
	r.OCRMethod = res.OCR.Method
	r.OCRConfidence = res.OCR.Confidence
	r.Confidence = res.OverallConfidence
	r.ErrorType = res.ErrorType
	r.UsedFallback = res.UsedFallback
	r.Warnings = res.Warnings
	r.UpdatedAt = now
}
