package retrieval

import (
	"context"
	"strings"
)

// Searcher is the vector-search surface the Retriever needs from an Index.
type Searcher interface {
	Search(vector []float32, topK int) ([]ScoredChunk, error)
	Range(fileName string, lo, hi int) ([]ChunkRef, error)
}

// QueryEmbedder embeds a query string.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetrievedChunk is one chunk of the assembled context. Neighbors inherit
// their anchor's score and rank position.
type RetrievedChunk struct {
	FileName string  `json:"file_name"`
	ChunkID  int     `json:"chunk_id"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
	Anchor   bool    `json:"anchor"`
}

// ContextBundle is the ordered, deduplicated context for one question.
type ContextBundle struct {
	Chunks []RetrievedChunk
	// Sources are the distinct file names contributing any chunk, in
	// first-contribution order.
	Sources []string
}

// Empty reports whether no context was retrieved.
func (b ContextBundle) Empty() bool {
	return len(b.Chunks) == 0
}

// Context concatenates the chunk texts with blank-line separators.
func (b ContextBundle) Context() string {
	texts := make([]string, len(b.Chunks))
	for i, c := range b.Chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n\n")
}

// Retriever combines query embedding, similarity ranking, and neighbor
// expansion into context assembly.
type Retriever struct {
	embedder QueryEmbedder
	index    Searcher
}

// NewRetriever creates a Retriever backed by the given embedder and index.
func NewRetriever(embedder QueryEmbedder, index Searcher) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds the question, selects the topK most similar chunks as
// anchors, expands each anchor to its neighbors within radius in the same
// file, and assembles the deduplicated bundle ordered by anchor rank.
// An empty corpus yields an empty bundle, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK, radius int) (ContextBundle, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return ContextBundle{}, err
	}

	anchors, err := r.index.Search(vec, topK)
	if err != nil {
		return ContextBundle{}, err
	}
	if len(anchors) == 0 {
		return ContextBundle{}, nil
	}

	var bundle ContextBundle
	seen := make(map[chunkKey]bool)
	sourceSeen := make(map[string]bool)

	for _, anchor := range anchors {
		lo := anchor.ChunkID - radius
		if lo < 1 {
			lo = 1
		}
		hi := anchor.ChunkID + radius

		neighbors, err := r.index.Range(anchor.FileName, lo, hi)
		if err != nil {
			return ContextBundle{}, err
		}

		for _, n := range neighbors {
			key := chunkKey{FileName: n.FileName, ChunkID: n.ChunkID}
			if seen[key] {
				continue
			}
			seen[key] = true

			bundle.Chunks = append(bundle.Chunks, RetrievedChunk{
				FileName: n.FileName,
				ChunkID:  n.ChunkID,
				Text:     n.Text,
				Score:    anchor.Score,
				Anchor:   n.ChunkID == anchor.ChunkID,
			})
			if !sourceSeen[n.FileName] {
				sourceSeen[n.FileName] = true
				bundle.Sources = append(bundle.Sources, n.FileName)
			}
		}
	}

	return bundle, nil
}
