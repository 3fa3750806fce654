package scanning

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"
)

// DefaultDPI is the density page 1 is rendered at.
const DefaultDPI = 300

// Rasterizer renders the first page of a PDF as a PNG.
type Rasterizer interface {
	RasterizeFirstPage(ctx context.Context, pdf []byte) ([]byte, error)
}

// FitzRasterizer renders with MuPDF in-process.
type FitzRasterizer struct {
	DPI float64
}

// RasterizeFirstPage renders page 1 at the configured DPI
func (f FitzRasterizer) RasterizeFirstPage(_ context.Context, pdfData []byte) ([]byte, error) {
	dpi := f.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", errb.String(),
		)
	} else {
		slog.Debug("exec ok", "cmd", name, "duration_ms", time.Since(start).Milliseconds())
	}
	return out.Bytes(), errb.Bytes(), err
}

// PopplerRasterizer shells out to pdftoppm. Each call works in its own
// temporary directory, removed on every exit path.
type PopplerRasterizer struct {
	Binary string
	DPI    int
	Runner Runner
	// TempDir is the parent for working directories; empty means os.TempDir().
	TempDir string
}

// RasterizeFirstPage renders page 1 with pdftoppm
func (p PopplerRasterizer) RasterizeFirstPage(ctx context.Context, pdfData []byte) (out []byte, err error) {
	binary := p.Binary
	if binary == "" {
		binary = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	tmpDir, err := os.MkdirTemp(p.TempDir, "raster-"+uuid.NewString()+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			slog.Warn("failed to remove raster temp dir", "path", tmpDir, "error", rmErr)
		}
	}()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp pdf: %w", err)
	}

	// pdftoppm -r 300 -png -f 1 -l 1 -singlefile <in.pdf> <tmp/page>
	prefix := filepath.Join(tmpDir, "page")
	_, errb, err := runner.Run(ctx, binary, "-r", strconv.Itoa(dpi), "-png", "-f", "1", "-l", "1", "-singlefile", in, prefix)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w: %s", binary, err, strings.TrimSpace(string(errb)))
	}

	out, err = os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("reading rendered page: %w", err)
	}
	return out, nil
}
