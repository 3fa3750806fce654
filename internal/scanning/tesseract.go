package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/expense-extractor/internal/expense"
)

// minOCRHeight is the height small images are upscaled to before recognition.
const minOCRHeight = 1200

// UnscoredConfidence is reported for text tesseract read but could not score.
const UnscoredConfidence = 0.5

var wordConfPattern = regexp.MustCompile(`x_wconf (\d+)`)

// ocrEngine runs a local OCR pass and reports per-word confidences on a 0-100 scale.
type ocrEngine interface {
	recognize(image []byte, languages []string) (text string, wordConfidences []float64, err error)
}

type gosseractEngine struct {
	logger *slog.Logger
}

func (e gosseractEngine) recognize(img []byte, languages []string) (string, []float64, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			return "", nil, fmt.Errorf("setting tesseract language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return "", nil, fmt.Errorf("setting tesseract image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err == nil {
		confs := make([]float64, 0, len(boxes))
		for _, b := range boxes {
			confs = append(confs, b.Confidence)
		}
		return text, confs, nil
	}
	e.logger.Warn("tesseract word boxes unavailable, scoring from hOCR", "error", err)

	hocr, err := client.HOCRText()
	if err != nil {
		e.logger.Warn("tesseract hOCR unavailable", "error", err)
		return text, nil, nil
	}
	return text, hocrConfidences(hocr), nil
}

// hocrConfidences pulls the per-word x_wconf scores out of hOCR markup.
func hocrConfidences(hocr string) []float64 {
	var confs []float64
	for _, m := range wordConfPattern.FindAllStringSubmatch(hocr, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil {
			confs = append(confs, float64(v))
		}
	}
	return confs
}

// Tesseract is the self-hosted OCR backend.
type Tesseract struct {
	engine    ocrEngine
	languages []string
}

// NewTesseract creates a Tesseract backend. languages defaults to English.
func NewTesseract(languages []string, logger *slog.Logger) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tesseract{engine: gosseractEngine{logger: logger}, languages: languages}
}

func (t *Tesseract) Method() expense.Method { return expense.MethodTesseract }

// Recognize preprocesses the image and runs tesseract. Confidence is the mean
// word confidence scaled to [0, 1], or UnscoredConfidence when tesseract
// returned text without word scores.
func (t *Tesseract) Recognize(ctx context.Context, img []byte) (expense.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return expense.OCRResult{}, err
	}

	text, confs, err := t.engine.recognize(preprocess(img), t.languages)
	if err != nil {
		return expense.OCRResult{}, err
	}
	text = strings.TrimSpace(text)

	scored := len(confs) > 0
	confidence := UnscoredConfidence
	if scored {
		var sum float64
		for _, c := range confs {
			sum += c
		}
		confidence = sum / float64(len(confs)) / 100
	}
	confidence = min(max(confidence, 0), 1)
	if text == "" {
		confidence = 0
	}

	return expense.OCRResult{
		Success:    text != "",
		Text:       text,
		Confidence: confidence,
		Method:     expense.MethodTesseract,
		WordCount:  len(strings.Fields(text)),
		Metadata: map[string]any{
			"languages": strings.Join(t.languages, "+"),
			"scored":    scored,
		},
	}, nil
}

// preprocess converts to grayscale and upscales short images. Undecodable
// input is returned untouched for tesseract to try anyway.
func preprocess(img []byte) []byte {
	src, err := imaging.Decode(bytes.NewReader(img), imaging.AutoOrientation(true))
	if err != nil {
		return img
	}
	gray := imaging.Grayscale(src)
	if gray.Bounds().Dy() < minOCRHeight {
		gray = imaging.Resize(gray, 0, minOCRHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return img
	}
	return buf.Bytes()
}
