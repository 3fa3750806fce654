// Package config holds the process-wide settings built once from flags and
// environment at start-up and handed to every component.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Log controls the default slog handler.
type Log struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

// OCR configures the cascade and the PDF path.
type OCR struct {
	Timeout time.Duration `validate:"gt=0"`

	VisionEnabled       bool
	VisionAPIKey        string
	VisionCredentials   string
	VisionLanguageHints []string

	TesseractLanguages []string `validate:"min=1,dive,required"`

	Rasterizer string `validate:"oneof=fitz pdftoppm"`
	DPI        int    `validate:"min=72,max=1200"`
	PDFToPPM   string `validate:"required_if=Rasterizer pdftoppm"`
}

// Model configures the completion provider used for structured extraction.
type Model struct {
	Provider string `validate:"oneof=none gemini openai anthropic ollama"`
	Name     string `validate:"required_unless=Provider none"`
	APIKey   string
	BaseURL  string        `validate:"omitempty,url"`
	Timeout  time.Duration `validate:"gt=0"`
	Attempts uint          `validate:"min=1,max=5"`
}

// Server configures the HTTP adapter.
type Server struct {
	Port           int    `validate:"min=1,max=65535"`
	DBPath         string `validate:"required"`
	StorageDir     string `validate:"required"`
	AuthUser       string `validate:"required_with=AuthPass"`
	AuthPass       string `validate:"required_with=AuthUser"`
	MaxUploadBytes int64  `validate:"min=1"`
}

// Config is everything the binary needs.
type Config struct {
	DefaultCurrency string `validate:"len=3,uppercase"`
	Concurrency     int    `validate:"min=1,max=64"`

	Log    Log
	OCR    OCR
	Model  Model
	Server Server
}

// Default returns a Config with every tunable at its default.
func Default() Config {
	return Config{
		DefaultCurrency: "INR",
		Concurrency:     4,
		Log:             Log{Level: "info", Format: "text"},
		OCR: OCR{
			Timeout:            30 * time.Second,
			TesseractLanguages: []string{"eng"},
			Rasterizer:         "fitz",
			DPI:                300,
			PDFToPPM:           "pdftoppm",
		},
		Model: Model{
			Provider: "none",
			Timeout:  45 * time.Second,
			Attempts: 2,
		},
		Server: Server{
			Port:           8080,
			DBPath:         "expense-extractor.db",
			StorageDir:     "./receipts",
			MaxUploadBytes: 50 << 20,
		},
	}
}

// keyedProviders need an API key to be usable.
var keyedProviders = map[string]bool{"gemini": true, "openai": true, "anthropic": true}

func modelLevel(sl validator.StructLevel) {
	m := sl.Current().Interface().(Model)
	if keyedProviders[m.Provider] && m.APIKey == "" {
		sl.ReportError(m.APIKey, "APIKey", "APIKey", "required_for_provider", m.Provider)
	}
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(modelLevel, Model{})
	return v
}()

// Validate checks every field and reports all violations at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Logger builds a logger writing to w in the configured format.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SplitList turns a comma separated flag value into a list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
