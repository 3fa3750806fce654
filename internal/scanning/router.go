package scanning

import (
	"fmt"
	"mime"
	"strings"
)

// Path is the branch of the pipeline a document takes.
type Path string

const (
	PathImage Path = "image"
	PathPDF   Path = "pdf"
)

// Route picks the path from the declared MIME type alone; content is never sniffed.
func Route(mimeType string) (Path, error) {
	mt := NormalizeMIME(mimeType)
	switch {
	case mt == "application/pdf":
		return PathPDF, nil
	case strings.HasPrefix(mt, "image/"):
		return PathImage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
}

// NormalizeMIME lowercases a MIME type and drops any parameters.
func NormalizeMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return mt
}
