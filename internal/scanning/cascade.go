package scanning

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
)

// StubConfidence is reported for the placeholder returned when local OCR reads too little.
const StubConfidence = 0.3

// Decision tells the cascade what to do after an attempt fails.
type Decision int

const (
	// Continue moves on to the next attempt.
	Continue Decision = iota
	// Abort stops the cascade and surfaces the error.
	Abort
)

// Attempt pairs a backend with the policy applied when it fails.
type Attempt struct {
	Backend Backend
	OnError func(err error) Decision
	// Stub replaces a read shorter than MinTextLength with a labelled placeholder.
	Stub bool
}

// AlwaysContinue is the OnError policy that never aborts.
func AlwaysContinue(error) Decision { return Continue }

// AbortOnService stops the cascade for service failures.
func AbortOnService(err error) Decision {
	if failure.IsService(err) {
		return Abort
	}
	return Continue
}

// CascadeOptions configures NewCascade.
type CascadeOptions struct {
	// Vision is optional; without it only local OCR runs.
	Vision *Vision
	// Local is the self-hosted backend, normally a *Tesseract.
	Local Backend
	// Timeout bounds each attempt. Default 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Cascade runs OCR attempts in order until one yields text.
type Cascade struct {
	attempts []Attempt
	timeout  time.Duration
	logger   *slog.Logger
}

// NewCascade builds the standard attempt order: cloud advanced, cloud basic,
// then local OCR. A service failure in cloud basic mode halts the cascade.
func NewCascade(opts CascadeOptions) *Cascade {
	var attempts []Attempt
	if opts.Vision != nil {
		attempts = append(attempts,
			Attempt{Backend: opts.Vision.Advanced(), OnError: AlwaysContinue},
			Attempt{Backend: opts.Vision.Basic(), OnError: AbortOnService},
		)
	}
	if opts.Local != nil {
		attempts = append(attempts, Attempt{Backend: opts.Local, OnError: AlwaysContinue, Stub: true})
	}
	return NewCascadeWithAttempts(attempts, opts.Timeout, opts.Logger)
}

// NewCascadeWithAttempts builds a cascade from an explicit attempt list.
func NewCascadeWithAttempts(attempts []Attempt, timeout time.Duration, logger *slog.Logger) *Cascade {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{attempts: attempts, timeout: timeout, logger: logger}
}

// Methods lists the backends in the order they are tried.
func (c *Cascade) Methods() []expense.Method {
	out := make([]expense.Method, 0, len(c.attempts))
	for _, a := range c.attempts {
		out = append(out, a.Backend.Method())
	}
	return out
}

// Recognize runs the attempts in order. It returns an error only when an
// attempt's policy aborts; that error is a *failure.Error. When every attempt
// fails the result is unsuccessful and the error is nil.
func (c *Cascade) Recognize(ctx context.Context, img []byte) (expense.OCRResult, error) {
	var (
		lastMethod expense.Method
		tried      []string
	)
	for _, a := range c.attempts {
		method := a.Backend.Method()
		lastMethod = method
		tried = append(tried, string(method))

		res, err := c.try(ctx, a.Backend, img)
		if err == nil && a.Stub && len(strings.TrimSpace(res.Text)) < MinTextLength {
			c.logger.Info("local OCR read too little text, returning placeholder", "method", method, "chars", len(strings.TrimSpace(res.Text)))
			return stub(res), nil
		}
		if err == nil && res.Success {
			c.logger.Info("OCR complete", "method", method, "confidence", res.Confidence, "words", res.WordCount)
			if res.Metadata == nil {
				res.Metadata = map[string]any{}
			}
			res.Metadata["attempts"] = strings.Join(tried, ",")
			return res, nil
		}
		if err == nil {
			err = ErrNoText
		}

		if a.OnError != nil && a.OnError(err) == Abort {
			c.logger.Error("OCR cascade aborted", "method", method, "error", err)
			return expense.FailedOCR(method, map[string]any{"attempts": strings.Join(tried, ",")}),
				&failure.Error{Class: failure.ServiceFailure, Stage: "ocr", Err: err}
		}
		c.logger.Warn("OCR attempt failed", "method", method, "error", err)
	}

	return expense.FailedOCR(lastMethod, map[string]any{"attempts": strings.Join(tried, ",")}), nil
}

func (c *Cascade) try(ctx context.Context, b Backend, img []byte) (expense.OCRResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return b.Recognize(ctx, img)
}

func stub(res expense.OCRResult) expense.OCRResult {
	text := strings.TrimSpace(res.Text)
	meta := map[string]any{"placeholder_for": string(res.Method)}
	for k, v := range res.Metadata {
		meta[k] = v
	}
	return expense.OCRResult{
		Success:     true,
		Text:        text,
		Confidence:  StubConfidence,
		Method:      expense.MethodFallback,
		WordCount:   len(strings.Fields(text)),
		Placeholder: true,
		Metadata:    meta,
	}
}
