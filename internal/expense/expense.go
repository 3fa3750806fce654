// Package expense holds the data model shared by every stage of the receipt
// extraction pipeline.
package expense

import (
	"github.com/zombor/expense-extractor/internal/failure"
)

// MaxItems caps the number of line items kept on a record.
const MaxItems = 20

// Document is a receipt submitted for extraction. It is never persisted by the pipeline.
type Document struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Method records which backend produced an OCRResult.
type Method string

const (
	MethodVisionAdvanced Method = "vision_advanced"
	MethodVisionBasic    Method = "vision_basic"
	MethodPDFText        Method = "pdf_text"
	MethodPDFOCR         Method = "pdf_ocr"
	MethodTesseract      Method = "tesseract"
	MethodFallback       Method = "fallback"
	// MethodProvided marks text supplied by the caller rather than read from a document.
	MethodProvided Method = "provided"
)

// OCRResult is the raw text produced from a document.
// Success=false always carries empty text and zero confidence.
type OCRResult struct {
	Success           bool           `json:"success"`
	Text              string         `json:"text"`
	Confidence        float64        `json:"confidence"`
	Method            Method         `json:"method,omitempty"`
	WordCount         int            `json:"wordCount"`
	DetectedLanguages []string       `json:"detectedLanguages,omitempty"`
	NeedsAIProcessing bool           `json:"needsAIProcessing,omitempty"`
	Placeholder       bool           `json:"placeholder,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// FailedOCR returns an unsuccessful result for method.
func FailedOCR(method Method, metadata map[string]any) OCRResult {
	return OCRResult{Method: method, Metadata: metadata}
}

// Item is a single purchased line.
type Item struct {
	Name  string   `json:"name"`
	Price *float64 `json:"price"`
}

// Candidate is the model's structured guess before validation.
type Candidate struct {
	Merchant      *string
	Date          *string
	Subtotal      *float64
	Tax           *float64
	Tip           *float64
	Miscellaneous *float64
	Total         *float64
	Currency      *string
	PaymentMethod *string
	InvoiceNumber *string
	BillNumber    *string
	SerialNumber  *string
	Items         []Item
	Confidence    float64
}

// Record is the validated, normalized pipeline output.
// Every amount is either nil or a finite non-negative number.
type Record struct {
	Merchant      *string  `json:"merchant"`
	Date          *string  `json:"date"`
	Subtotal      *float64 `json:"subtotal"`
	Tax           *float64 `json:"tax"`
	Tip           *float64 `json:"tip"`
	Miscellaneous *float64 `json:"miscellaneous"`
	Total         *float64 `json:"total"`
	Currency      string   `json:"currency"`
	Items         []Item   `json:"items"`
	PaymentMethod *string  `json:"paymentMethod"`
	InvoiceNumber *string  `json:"invoiceNumber"`
	BillNumber    *string  `json:"billNumber"`
	SerialNumber  *string  `json:"serialNumber"`
	Confidence    float64  `json:"confidence"`
	OriginalText  string   `json:"originalText"`
}

// Result is returned for every processed document.
type Result struct {
	Success           bool          `json:"success"`
	ErrorType         failure.Class `json:"errorType,omitempty"`
	OCR               OCRResult     `json:"ocr"`
	Extraction        *Record       `json:"extraction"`
	OverallConfidence float64       `json:"overallConfidence"`
	UsedFallback      bool          `json:"usedFallback"`
	Warnings          []string      `json:"warnings,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }
