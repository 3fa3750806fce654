package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-extractor/internal/config"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the parsed flag values until they are copied into a config.Config.
type flags struct {
	logLevel, logFormat *string
	currency            *string

	ocrTimeout        *time.Duration
	vision            *bool
	visionKey         *string
	visionCredentials *string
	visionLanguages   *string
	tesseractLangs    *string
	rasterizer        *string
	dpi               *int
	pdftoppm          *string

	llmProvider *string
	llmModel    *string
	llmKey      *string
	llmURL      *string
	llmTimeout  *time.Duration
	llmAttempts *int

	port        *int
	dbPath      *string
	storagePath *string
	authUser    *string
	authPass    *string
	maxUploadMB *int

	concurrency *int
	hint        *string
}

func (f flags) config() config.Config {
	cfg := config.Default()

	cfg.Log.Level = *f.logLevel
	cfg.Log.Format = *f.logFormat
	cfg.DefaultCurrency = strings.ToUpper(*f.currency)

	cfg.OCR.Timeout = *f.ocrTimeout
	cfg.OCR.VisionEnabled = *f.vision
	cfg.OCR.VisionAPIKey = *f.visionKey
	cfg.OCR.VisionCredentials = *f.visionCredentials
	cfg.OCR.VisionLanguageHints = config.SplitList(*f.visionLanguages)
	cfg.OCR.TesseractLanguages = config.SplitList(*f.tesseractLangs)
	cfg.OCR.Rasterizer = *f.rasterizer
	cfg.OCR.DPI = *f.dpi
	cfg.OCR.PDFToPPM = *f.pdftoppm

	cfg.Model.Provider = strings.ToLower(*f.llmProvider)
	cfg.Model.Name = *f.llmModel
	cfg.Model.APIKey = *f.llmKey
	cfg.Model.BaseURL = *f.llmURL
	cfg.Model.Timeout = *f.llmTimeout
	cfg.Model.Attempts = uint(max(*f.llmAttempts, 0))

	cfg.Server.Port = *f.port
	cfg.Server.DBPath = *f.dbPath
	cfg.Server.StorageDir = *f.storagePath
	cfg.Server.AuthUser = *f.authUser
	cfg.Server.AuthPass = *f.authPass
	cfg.Server.MaxUploadBytes = int64(*f.maxUploadMB) << 20

	cfg.Concurrency = *f.concurrency
	return cfg
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	def := config.Default()
	var f flags

	rootFlags := ff.NewFlagSet("expense-extractor")
	f.logLevel = rootFlags.StringLong("log-level", def.Log.Level, "Log level: debug, info, warn or error")
	f.logFormat = rootFlags.StringLong("log-format", def.Log.Format, "Log format: text or json")
	f.currency = rootFlags.StringLong("currency", def.DefaultCurrency, "Currency used when none can be inferred")
	f.ocrTimeout = rootFlags.DurationLong("ocr-timeout", def.OCR.Timeout, "Timeout for each OCR attempt")
	f.vision = rootFlags.BoolLong("vision", "Use Google Cloud Vision before local OCR")
	f.visionKey = rootFlags.StringLong("vision-key", "", "Google Cloud Vision API key")
	f.visionCredentials = rootFlags.StringLong("vision-credentials", "", "Service account JSON file for Cloud Vision")
	f.visionLanguages = rootFlags.StringLong("vision-languages", "en", "Comma separated Cloud Vision language hints")
	f.tesseractLangs = rootFlags.StringLong("tesseract-langs", strings.Join(def.OCR.TesseractLanguages, ","), "Comma separated tesseract languages")
	f.rasterizer = rootFlags.StringLong("rasterizer", def.OCR.Rasterizer, "PDF rasterizer: fitz or pdftoppm")
	f.dpi = rootFlags.IntLong("dpi", def.OCR.DPI, "Resolution for rasterized PDF pages")
	f.pdftoppm = rootFlags.StringLong("pdftoppm", def.OCR.PDFToPPM, "Path to the pdftoppm binary")
	f.llmProvider = rootFlags.StringLong("llm-provider", def.Model.Provider, "Completion provider: none, gemini, openai, anthropic or ollama")
	f.llmModel = rootFlags.StringLong("llm-model", "", "Model name for the completion provider")
	f.llmKey = rootFlags.StringLong("llm-key", "", "API key for the completion provider")
	f.llmURL = rootFlags.StringLong("llm-url", "", "Base URL override for openai, anthropic or ollama")
	f.llmTimeout = rootFlags.DurationLong("llm-timeout", def.Model.Timeout, "Timeout for each completion call")
	f.llmAttempts = rootFlags.IntLong("llm-attempts", int(def.Model.Attempts), "Attempts for rate-limited or unavailable completion calls")
	f.concurrency = rootFlags.IntLong("concurrency", def.Concurrency, "Documents processed at once")
	_ = rootFlags.StringLong("config", "", "Config file (optional)")

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	f.port = serveFlags.IntLong("port", def.Server.Port, "HTTP server port")
	f.dbPath = serveFlags.StringLong("db", def.Server.DBPath, "Database file path")
	f.storagePath = serveFlags.StringLong("storage", def.Server.StorageDir, "Storage directory path")
	f.authUser = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
	f.authPass = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	f.maxUploadMB = serveFlags.IntLong("max-upload-mb", int(def.Server.MaxUploadBytes>>20), "Largest accepted upload in MB")

	extractFlags := ff.NewFlagSet("extract").SetParent(rootFlags)
	f.hint = extractFlags.StringLong("hint", "", "Currency hint passed with every document, e.g. INR")

	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "expense-extractor serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return serve(ctx, f.config(), stderr)
		},
	}

	extractCmd := &ff.Command{
		Name:      "extract",
		Usage:     "expense-extractor extract [FLAGS] FILE...",
		ShortHelp: "extract receipts and print one JSON result per line",
		Flags:     extractFlags,
		Exec: func(ctx context.Context, args []string) error {
			return extract(ctx, f.config(), *f.hint, args, stdout, stderr)
		},
	}

	root := &ff.Command{
		Name:        "expense-extractor",
		Usage:       "expense-extractor [FLAGS] <SUBCOMMAND>",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{serveCmd, extractCmd},
		Exec: func(ctx context.Context, args []string) error {
			return ff.ErrHelp
		},
	}

	err := root.Parse(args,
		ff.WithEnvVarPrefix("EXPENSE_EXTRACTOR"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if err == nil {
		err = root.Run(ctx)
	}
	if errors.Is(err, ff.ErrHelp) {
		selected := root.GetSelected()
		if selected == nil {
			selected = root
		}
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
		return nil
	}
	return err
}

// setup validates cfg and installs the default logger.
func setup(cfg config.Config, stderr io.Writer) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Log.Logger(stderr)
	slog.SetDefault(logger)
	return logger, nil
}
