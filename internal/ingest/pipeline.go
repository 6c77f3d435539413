// Package ingest orchestrates the document ingestion pipeline: dedup, stage,
// parse, chunk, embed. The pipeline is not transactional across steps; every
// run starts by deleting any prior records for the file, so a failed run
// leaves partial state that the next attempt cleans up.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/provzone/docchat/internal/chunker"
	"github.com/provzone/docchat/internal/parse"
	"github.com/provzone/docchat/internal/retrieval"
	"github.com/provzone/docchat/internal/staging"
	"github.com/provzone/docchat/internal/storage"
)

// DocumentStore abstracts the document and chunk record operations.
type DocumentStore interface {
	SaveDocument(doc storage.Document) error
	GetDocument(fileName string) (storage.Document, error)
	DeleteDocument(fileName string) error
	InsertChunks(fileName, generation string, texts []string) error
}

// ChunkIndex abstracts the embedding side of the chunk table.
type ChunkIndex interface {
	SetEmbedding(fileName string, chunkID int, vec []float32) error
	Missing(fileName string) ([]retrieval.ChunkRef, error)
	MissingAll() ([]retrieval.ChunkRef, error)
}

// ChunkEmbedder generates embeddings for chunk text.
type ChunkEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Result summarizes a completed ingestion run.
type Result struct {
	FileName   string `json:"file_name"`
	StagedName string `json:"staged_name"`
	Generation string `json:"generation"`
	Chunks     int    `json:"chunks"`
	Embedded   int    `json:"embedded"`
}

// Pipeline runs ingestion for one document at a time. Concurrent runs for the
// same file name are not isolated; callers serialize them.
type Pipeline struct {
	store    DocumentStore
	staging  staging.Store
	parser   parse.Parser
	embedder ChunkEmbedder
	index    ChunkIndex
	chunker  *chunker.Chunker
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline with the given dependencies.
func NewPipeline(store DocumentStore, stage staging.Store, parser parse.Parser, embedder ChunkEmbedder, index ChunkIndex, chk *chunker.Chunker) *Pipeline {
	if chk == nil {
		chk = chunker.New(0, 0)
	}
	return &Pipeline{
		store:    store,
		staging:  stage,
		parser:   parser,
		embedder: embedder,
		index:    index,
		chunker:  chk,
		logger:   slog.Default(),
	}
}

// IngestNew ingests an uploaded file. Any prior records for fileName are
// deleted first, so re-uploading a file fully replaces it.
func (p *Pipeline) IngestNew(ctx context.Context, fileName string, upload io.Reader) (Result, error) {
	if err := p.dedup(fileName); err != nil {
		return Result{}, err
	}

	stagedName := staging.StagedName(fileName)
	if err := p.staging.Put(ctx, stagedName, upload); err != nil {
		return Result{}, stepErr(StepStage, fmt.Errorf("staging %s: %w", fileName, err))
	}
	ok, err := p.stagedExists(ctx, stagedName)
	if err != nil {
		return Result{}, stepErr(StepStage, fmt.Errorf("verifying staged %s: %w", stagedName, err))
	}
	if !ok {
		return Result{}, stepErr(StepStage, fmt.Errorf("staged file %s not visible after upload", stagedName))
	}

	return p.run(ctx, fileName, stagedName)
}

// IngestExisting re-runs the pipeline for a file already present in staging.
// The staged blob is located by the remembered staged name when a prior
// Document record exists, falling back to a pattern match; if neither finds a
// blob the run fails with ErrStagedFileNotFound.
func (p *Pipeline) IngestExisting(ctx context.Context, fileName string) (Result, error) {
	stagedName, err := p.findStaged(ctx, fileName)
	if err != nil {
		return Result{}, err
	}

	if err := p.dedup(fileName); err != nil {
		return Result{}, err
	}

	return p.run(ctx, fileName, stagedName)
}

// Remove deletes the document and chunk records, then best-effort removes the
// staged blob. Staging failures are logged, not returned: the database state
// is authoritative.
func (p *Pipeline) Remove(ctx context.Context, fileName string) error {
	stagedName := ""
	doc, err := p.store.GetDocument(fileName)
	switch {
	case err == nil:
		stagedName = doc.StagedName
	case errors.Is(err, storage.ErrNotFound):
	default:
		return fmt.Errorf("loading document %s: %w", fileName, err)
	}

	if err := p.store.DeleteDocument(fileName); err != nil {
		return fmt.Errorf("deleting records for %s: %w", fileName, err)
	}

	if stagedName != "" {
		if err := p.staging.Remove(ctx, stagedName); err != nil {
			p.logger.Warn("staged file removal failed", "file_name", fileName, "staged_name", stagedName, "error", err)
		}
		return nil
	}
	if _, err := p.staging.RemoveMatching(ctx, staging.NamePattern(fileName)); err != nil {
		p.logger.Warn("staged file removal failed", "file_name", fileName, "error", err)
	}
	return nil
}

// Backfill fills every missing embedding across all documents, embedding
// concurrently. Returns how many vectors were written.
func (p *Pipeline) Backfill(ctx context.Context) (int, error) {
	refs, err := p.index.MissingAll()
	if err != nil {
		return 0, fmt.Errorf("listing unembedded chunks: %w", err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(refs))
	for i, ref := range refs {
		texts[i] = ref.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, stepErr(StepEmbed, err)
	}

	filled := 0
	for i, ref := range refs {
		if err := p.index.SetEmbedding(ref.FileName, ref.ChunkID, vectors[i]); err != nil {
			return filled, stepErr(StepEmbed, fmt.Errorf("storing embedding %s/%d: %w", ref.FileName, ref.ChunkID, err))
		}
		filled++
	}
	p.logger.Info("backfill complete", "filled", filled)
	return filled, nil
}

// run executes parse, chunk, and embed against an already-staged blob.
func (p *Pipeline) run(ctx context.Context, fileName, stagedName string) (Result, error) {
	generation := uuid.NewString()

	blob, err := p.staging.Open(ctx, stagedName)
	if err != nil {
		return Result{}, stepErr(StepParse, fmt.Errorf("opening staged %s: %w", stagedName, err))
	}
	content, parseErr := p.parser.Parse(ctx, blob, fileName)
	blob.Close()
	if parseErr != nil {
		return Result{}, stepErr(StepParse, fmt.Errorf("parsing %s: %w", fileName, parseErr))
	}

	if err := p.store.SaveDocument(storage.Document{
		FileName:      fileName,
		StagedName:    stagedName,
		ParsedContent: content,
		Generation:    generation,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		return Result{}, stepErr(StepParse, fmt.Errorf("saving document %s: %w", fileName, err))
	}

	texts := p.chunker.Split(content)
	if err := p.store.InsertChunks(fileName, generation, texts); err != nil {
		return Result{}, stepErr(StepChunk, fmt.Errorf("inserting chunks for %s: %w", fileName, err))
	}

	embedded, err := p.embedMissing(ctx, fileName)
	if err != nil {
		return Result{}, err
	}

	p.logger.Info("document ingested",
		"file_name", fileName,
		"generation", generation,
		"chunks", len(texts),
		"embedded", embedded)

	return Result{
		FileName:   fileName,
		StagedName: stagedName,
		Generation: generation,
		Chunks:     len(texts),
		Embedded:   embedded,
	}, nil
}

// embedMissing fills embeddings for the file's unembedded chunks one at a
// time, persisting each vector as it is produced so a failed run can resume
// where it stopped.
func (p *Pipeline) embedMissing(ctx context.Context, fileName string) (int, error) {
	refs, err := p.index.Missing(fileName)
	if err != nil {
		return 0, stepErr(StepEmbed, fmt.Errorf("listing unembedded chunks for %s: %w", fileName, err))
	}

	embedded := 0
	for _, ref := range refs {
		vec, err := p.embedder.Embed(ctx, ref.Text)
		if err != nil {
			return embedded, stepErr(StepEmbed, fmt.Errorf("embedding %s/%d: %w", ref.FileName, ref.ChunkID, err))
		}
		if err := p.index.SetEmbedding(ref.FileName, ref.ChunkID, vec); err != nil {
			return embedded, stepErr(StepEmbed, fmt.Errorf("storing embedding %s/%d: %w", ref.FileName, ref.ChunkID, err))
		}
		embedded++
	}
	return embedded, nil
}

func (p *Pipeline) dedup(fileName string) error {
	if err := p.store.DeleteDocument(fileName); err != nil {
		return fmt.Errorf("clearing prior records for %s: %w", fileName, err)
	}
	return nil
}

// findStaged resolves the staged blob name for an existing file: the
// remembered staged name when its blob still exists, otherwise the most
// recent pattern match.
func (p *Pipeline) findStaged(ctx context.Context, fileName string) (string, error) {
	doc, err := p.store.GetDocument(fileName)
	if err == nil && doc.StagedName != "" {
		ok, probeErr := p.stagedExists(ctx, doc.StagedName)
		if probeErr != nil {
			return "", stepErr(StepStage, fmt.Errorf("verifying staged %s: %w", doc.StagedName, probeErr))
		}
		if ok {
			return doc.StagedName, nil
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("loading document %s: %w", fileName, err)
	}

	names, err := p.staging.List(ctx, staging.NamePattern(fileName))
	if err != nil {
		return "", stepErr(StepStage, fmt.Errorf("searching staging for %s: %w", fileName, err))
	}
	if len(names) == 0 {
		return "", stepErr(StepStage, fmt.Errorf("%s: %w", fileName, ErrStagedFileNotFound))
	}
	// Staged names embed a timestamp, so the sorted list's last entry is the
	// most recent upload.
	return names[len(names)-1], nil
}

// stagedExists probes for the exact staged blob name. Glob matching is not
// used here so names containing glob metacharacters still resolve.
func (p *Pipeline) stagedExists(ctx context.Context, name string) (bool, error) {
	blob, err := p.staging.Open(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	blob.Close()
	return true, nil
}
