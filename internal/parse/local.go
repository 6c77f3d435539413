package parse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Compile-time check that LocalParser implements Parser.
var _ Parser = (*LocalParser)(nil)

// LocalParser extracts text in-process: PDF blobs via the pdf library,
// anything else treated as plain text. Used when no parse service is
// configured; it cannot OCR scanned pages.
type LocalParser struct{}

// NewLocalParser returns a LocalParser.
func NewLocalParser() *LocalParser {
	return &LocalParser{}
}

func (p *LocalParser) Parse(ctx context.Context, blob io.Reader, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(blob)
	if err != nil {
		return "", fmt.Errorf("reading blob %s: %w", name, err)
	}

	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return extractPDF(data, name)
	}
	return string(data), nil
}

// extractPDF concatenates per-page plain text, pages separated by newlines so
// the line-window chunker sees page boundaries as line boundaries.
func extractPDF(data []byte, name string) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", name, err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting page %d of %s: %w", i, name, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
