// Package scanning turns receipt images and PDFs into raw text.
package scanning

import (
	"context"
	"errors"

	"github.com/zombor/expense-extractor/internal/expense"
)

var (
	// ErrUnsupportedType is returned for a MIME type that is neither an image nor a PDF.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrNoText is returned by a backend that ran but found no text.
	ErrNoText = errors.New("no text detected")
)

// MinTextLength is the shortest text treated as a usable read.
const MinTextLength = 10

// Backend is one OCR engine the cascade can try
type Backend interface {
	// Method identifies the backend in results
	Method() expense.Method
	// Recognize reads the text in a PNG, JPEG or GIF image
	Recognize(ctx context.Context, image []byte) (expense.OCRResult, error)
}

// Recognizer produces OCR results for an image; the cascade implements it.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (expense.OCRResult, error)
}
