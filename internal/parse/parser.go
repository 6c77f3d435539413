// Package parse converts staged source blobs into plain text content.
package parse

import (
	"context"
	"io"
)

// Parser is the OCR/parse boundary: it turns a staged blob into the plain
// text that gets chunked and embedded. The blob's staged name is passed so
// implementations can pick an extraction path by extension.
type Parser interface {
	Parse(ctx context.Context, blob io.Reader, name string) (string, error)
}
