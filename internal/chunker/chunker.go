// Package chunker turns parsed document text into fixed-size line windows.
//
// The algorithm is deliberately dumb: consecutive lines are grouped into
// windows of a fixed count with no awareness of headings or paragraphs.
// Changing it would invalidate every stored embedding, so any smarter
// splitting needs a full re-ingestion of the corpus.
package chunker

import "strings"

const (
	// DefaultWindowLines is how many consecutive lines form one chunk.
	DefaultWindowLines = 40
	// DefaultMinChars filters near-empty fragments such as page breaks;
	// chunks must be strictly longer than this to be retained.
	DefaultMinChars = 80
)

// Chunker splits content into line windows. The zero value is not usable;
// construct with New.
type Chunker struct {
	windowLines int
	minChars    int
}

// New creates a Chunker. Non-positive arguments fall back to the defaults.
func New(windowLines, minChars int) *Chunker {
	if windowLines <= 0 {
		windowLines = DefaultWindowLines
	}
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Chunker{windowLines: windowLines, minChars: minChars}
}

// Split groups content's lines into windows of windowLines consecutive lines,
// joins each window with newlines, and drops windows at or below the minimum
// character length. The result is deterministic for a given input, and the
// caller numbers retained chunks contiguously from 1.
func (c *Chunker) Split(content string) []string {
	if content == "" {
		return nil
	}

	lines := strings.Split(content, "\n")

	var chunks []string
	for start := 0; start < len(lines); start += c.windowLines {
		end := start + c.windowLines
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[start:end], "\n")
		if len(text) <= c.minChars {
			continue
		}
		chunks = append(chunks, text)
	}
	return chunks
}
