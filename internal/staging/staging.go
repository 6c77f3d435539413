// Package staging provides the intermediate blob storage a source file passes
// through before it is parsed and indexed.
package staging

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the staging-area boundary: a flat namespace of named blobs with
// put, open, glob-style list, and remove operations.
type Store interface {
	// Put writes a blob under name, replacing any existing blob.
	Put(ctx context.Context, name string, r io.Reader) error

	// Open returns a reader for the named blob.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the blob names matching a glob pattern, sorted.
	List(ctx context.Context, pattern string) ([]string, error)

	// Remove deletes the named blob.
	Remove(ctx context.Context, name string) error

	// RemoveMatching deletes all blobs matching a glob pattern and returns
	// how many were removed.
	RemoveMatching(ctx context.Context, pattern string) (int, error)
}

// StagedName derives a storage-safe, collision-resistant staging name for a
// logical file name: the sanitized base plus a timestamp and a short random
// suffix, keeping the sanitized original extension. Special characters in
// user-supplied file names have broken staging transfers before; everything
// outside a conservative set is mapped to underscores, extension included, so
// staged names never contain glob metacharacters.
func StagedName(fileName string) string {
	base, ext := splitSanitized(fileName)
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s-%s%s", base, time.Now().UTC().Format("20060102T150405"), suffix, ext)
}

// NamePattern returns the glob matching every staged name ever derived from
// fileName. Used for best-effort staging cleanup when the exact staged name
// was not recorded.
func NamePattern(fileName string) string {
	base, ext := splitSanitized(fileName)
	return base + "-*" + ext
}

func splitSanitized(fileName string) (base, ext string) {
	ext = filepath.Ext(fileName)
	base = sanitize(strings.TrimSuffix(filepath.Base(fileName), ext))
	if ext != "" {
		ext = sanitize(ext)
	}
	return base, ext
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
