package engine

import "context"

// Engine abstracts the external AI services the pipelines call: text
// embedding at ingest and query time, and grounded completion at answer
// time. Consumers depend on this interface instead of the wire client so
// tests can substitute deterministic fakes.
type Engine interface {
	// Embed returns the embedding vector for text using the named model.
	// Ingestion and query-time encoding must pass the same model name, or
	// the stored vectors and the query vector live in different spaces.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// Complete sends a single prompt to the named model and returns the
	// generated text. No conversation state is kept between calls.
	Complete(ctx context.Context, model string, prompt string) (string, error)

	// IsReady reports whether the backing service is reachable.
	IsReady(ctx context.Context) bool
}
