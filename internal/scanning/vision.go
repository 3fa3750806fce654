package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/vision/v1"

	"github.com/zombor/expense-extractor/internal/expense"
)

const (
	// advancedConfidence is reported for full-page detection, which exposes no score.
	advancedConfidence = 0.95
	// basicWordConfidence is the per-detection estimate used in basic mode.
	basicWordConfidence = 0.85
)

// grpcCodeNames covers the status codes Vision reports inside a 200 response
// that mean the service itself is unavailable.
var grpcCodeNames = map[int64]string{
	4:  "DEADLINE_EXCEEDED",
	7:  "PERMISSION_DENIED",
	8:  "RESOURCE_EXHAUSTED",
	14: "UNAVAILABLE",
	16: "UNAUTHENTICATED",
}

// annotator is the slice of the Vision API the backends call.
type annotator interface {
	annotate(ctx context.Context, req *vision.BatchAnnotateImagesRequest) (*vision.BatchAnnotateImagesResponse, error)
}

type visionService struct {
	svc *vision.Service
}

func (v visionService) annotate(ctx context.Context, req *vision.BatchAnnotateImagesRequest) (*vision.BatchAnnotateImagesResponse, error) {
	return v.svc.Images.Annotate(req).Context(ctx).Do()
}

// VisionOptions configures the Google Cloud Vision client.
type VisionOptions struct {
	APIKey          string
	CredentialsFile string
	LanguageHints   []string
}

// Vision wraps Google Cloud Vision text detection.
type Vision struct {
	client        annotator
	languageHints []string
}

// NewVision creates a Vision client from an API key or a service account file.
func NewVision(ctx context.Context, opts VisionOptions) (*Vision, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	case opts.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	default:
		return nil, fmt.Errorf("vision api key or credentials file is required")
	}

	svc, err := vision.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	return &Vision{client: visionService{svc: svc}, languageHints: opts.LanguageHints}, nil
}

// Advanced returns the full-page DOCUMENT_TEXT_DETECTION backend.
func (v *Vision) Advanced() Backend { return &visionAdvanced{v} }

// Basic returns the TEXT_DETECTION backend.
func (v *Vision) Basic() Backend { return &visionBasic{v} }

func (v *Vision) annotate(ctx context.Context, img []byte, feature string) (*vision.AnnotateImageResponse, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(img)},
			Features: []*vision.Feature{{Type: feature}},
		}},
	}
	if len(v.languageHints) > 0 {
		req.Requests[0].ImageContext = &vision.ImageContext{LanguageHints: v.languageHints}
	}

	resp, err := v.client.annotate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision %s: %w", strings.ToLower(feature), err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("vision %s: %w", strings.ToLower(feature), ErrNoText)
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		name := grpcCodeNames[r.Error.Code]
		return nil, fmt.Errorf("vision %s: %s %s (code %d)", strings.ToLower(feature), name, r.Error.Message, r.Error.Code)
	}
	return r, nil
}

type visionAdvanced struct{ v *Vision }

func (b *visionAdvanced) Method() expense.Method { return expense.MethodVisionAdvanced }

func (b *visionAdvanced) Recognize(ctx context.Context, img []byte) (expense.OCRResult, error) {
	r, err := b.v.annotate(ctx, img, "DOCUMENT_TEXT_DETECTION")
	if err != nil {
		return expense.OCRResult{}, err
	}
	if r.FullTextAnnotation == nil || strings.TrimSpace(r.FullTextAnnotation.Text) == "" {
		return expense.OCRResult{}, fmt.Errorf("vision document_text_detection: %w", ErrNoText)
	}

	text := r.FullTextAnnotation.Text
	var langs []string
	seen := map[string]bool{}
	for _, page := range r.FullTextAnnotation.Pages {
		if page.Property == nil {
			continue
		}
		for _, l := range page.Property.DetectedLanguages {
			if l.LanguageCode != "" && !seen[l.LanguageCode] {
				seen[l.LanguageCode] = true
				langs = append(langs, l.LanguageCode)
			}
		}
	}

	return expense.OCRResult{
		Success:           true,
		Text:              text,
		Confidence:        advancedConfidence,
		Method:            expense.MethodVisionAdvanced,
		WordCount:         len(strings.Fields(text)),
		DetectedLanguages: langs,
		NeedsAIProcessing: true,
		Metadata: map[string]any{
			"pages": len(r.FullTextAnnotation.Pages),
		},
	}, nil
}

type visionBasic struct{ v *Vision }

func (b *visionBasic) Method() expense.Method { return expense.MethodVisionBasic }

func (b *visionBasic) Recognize(ctx context.Context, img []byte) (expense.OCRResult, error) {
	r, err := b.v.annotate(ctx, img, "TEXT_DETECTION")
	if err != nil {
		return expense.OCRResult{}, err
	}
	if len(r.TextAnnotations) == 0 || strings.TrimSpace(r.TextAnnotations[0].Description) == "" {
		return expense.OCRResult{}, fmt.Errorf("vision text_detection: %w", ErrNoText)
	}

	// the first annotation is the whole text, the rest are individual detections
	full := r.TextAnnotations[0]
	detections := r.TextAnnotations[1:]
	var sum float64
	for range detections {
		sum += basicWordConfidence
	}
	confidence := basicWordConfidence
	if len(detections) > 0 {
		confidence = sum / float64(len(detections))
	}

	var langs []string
	if full.Locale != "" {
		langs = []string{full.Locale}
	}

	return expense.OCRResult{
		Success:           true,
		Text:              full.Description,
		Confidence:        confidence,
		Method:            expense.MethodVisionBasic,
		WordCount:         len(detections),
		DetectedLanguages: langs,
		Metadata: map[string]any{
			"detections": len(detections),
		},
	}, nil
}
