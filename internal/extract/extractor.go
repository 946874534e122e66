// Package extract converts stored document bytes into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
)

// ErrUnsupportedType is returned for file types no extractor handles.
var ErrUnsupportedType = errors.New("unsupported file type")

// Extractor converts document bytes of a given file type into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, fileType string) (string, error)
}

// DocumentExtractor extracts text from PDFs via MuPDF and passes plain
// text formats through.
type DocumentExtractor struct {
	logger *slog.Logger
}

// New creates a new DocumentExtractor.
func New(logger *slog.Logger) *DocumentExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentExtractor{logger: logger.With("component", "extractor")}
}

// Extract returns the text content of the document.
func (e *DocumentExtractor) Extract(ctx context.Context, data []byte, fileType string) (string, error) {
	switch strings.ToLower(fileType) {
	case "pdf", "application/pdf":
		return e.extractPDF(ctx, data)
	case "txt", "md", "text/plain", "text/markdown":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("text document is not valid UTF-8")
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

func (e *DocumentExtractor) extractPDF(ctx context.Context, data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.Text(i)
		if err != nil {
			e.logger.Warn("failed to extract page, skipping", "page", i, "error", err)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no extractable text in PDF")
	}

	e.logger.Debug("pdf extracted", "pages", doc.NumPage(), "chars", len(text))
	return text, nil
}
