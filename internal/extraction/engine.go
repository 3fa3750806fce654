// Package extraction turns raw receipt text into a structured candidate using a
// language-model completion service, with a heuristic fallback for when the
// model cannot be used.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/failure"
)

// ErrNoCompleter is returned by an Engine built without a completion provider.
var ErrNoCompleter = errors.New("no completion provider configured")

// Completer sends one system+user exchange to a language model and returns its text.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
	Close() error
}

// EngineOptions tunes an Engine. Zero values select the defaults.
type EngineOptions struct {
	// Timeout bounds each completion call. Default 45s.
	Timeout time.Duration
	// Attempts is the total number of tries for transient failures. Default 2.
	Attempts uint
	// RetryDelay is the base backoff between attempts. Default 1s.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Engine is the structured extraction engine.
type Engine struct {
	completer  Completer
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewEngine returns an Engine backed by completer, which may be nil to
// disable the model step.
func NewEngine(completer Completer, opts EngineOptions) *Engine {
	e := &Engine{
		completer:  completer,
		timeout:    opts.Timeout,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = 45 * time.Second
	}
	if e.attempts == 0 {
		e.attempts = 2
	}
	if e.retryDelay <= 0 {
		e.retryDelay = time.Second
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Enabled reports whether a completion provider is configured.
func (e *Engine) Enabled() bool {
	return e != nil && e.completer != nil
}

// Extract asks the model for a candidate. Errors are either classified
// completion failures or wrap ErrMalformedResponse.
func (e *Engine) Extract(ctx context.Context, text, currencyHint string) (expense.Candidate, error) {
	if !e.Enabled() {
		return expense.Candidate{}, ErrNoCompleter
	}

	user := userPrompt(text, currencyHint)
	var raw string
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			out, err := e.completer.Complete(callCtx, systemPrompt, user)
			if err != nil {
				return err
			}
			raw = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.Delay(e.retryDelay),
		retry.RetryIf(failure.IsService),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("retrying completion", "provider", e.completer.Name(), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return expense.Candidate{}, failure.Wrap("extraction", fmt.Errorf("calling %s: %w", e.completer.Name(), err))
	}

	candidate, err := parseCandidate(raw)
	if err != nil {
		e.logger.Warn("unusable model response", "provider", e.completer.Name(), "error", err)
		return expense.Candidate{}, err
	}
	e.logger.Debug("model extraction complete", "provider", e.completer.Name(), "confidence", candidate.Confidence)
	return candidate, nil
}

// Close releases the completion provider.
func (e *Engine) Close() error {
	if !e.Enabled() {
		return nil
	}
	return e.completer.Close()
}
