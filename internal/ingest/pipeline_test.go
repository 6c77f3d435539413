package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/provzone/docchat/internal/chunker"
	"github.com/provzone/docchat/internal/parse"
	"github.com/provzone/docchat/internal/retrieval"
	"github.com/provzone/docchat/internal/staging"
	"github.com/provzone/docchat/internal/storage"
)

// fakeEmbedder returns a fixed-size vector derived from the text length, so
// identical chunks always get identical vectors.
type fakeEmbedder struct {
	calls   int
	failOn  string
	failErr error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, f.failErr
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

type testEnv struct {
	pipeline *Pipeline
	store    *storage.Store
	staging  *staging.FSStore
	index    *retrieval.Index
	embedder *fakeEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	stage, err := staging.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	index := retrieval.NewIndex(store.DB())
	embedder := &fakeEmbedder{}
	p := NewPipeline(store, stage, parse.NewLocalParser(), embedder, index, chunker.New(40, 80))
	return &testEnv{pipeline: p, store: store, staging: stage, index: index, embedder: embedder}
}

// docWithLines builds a document of n lines, each long enough that every
// 40-line window clears the retention threshold.
func docWithLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %03d: some sufficiently long sentence about the subject matter", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestIngestNewGlobMetacharName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.pipeline.IngestNew(ctx, "notes.[v1]", strings.NewReader(docWithLines(120)))
	if err != nil {
		t.Fatalf("IngestNew: %v", err)
	}
	if res.Chunks != 3 || res.Embedded != 3 {
		t.Errorf("result = %+v, want 3 chunks all embedded", res)
	}
	if strings.ContainsAny(res.StagedName, "[]*?") {
		t.Errorf("staged name %q contains glob metacharacters", res.StagedName)
	}

	// Reprocess resolves the same blob through the remembered staged name.
	if _, err := env.pipeline.IngestExisting(ctx, "notes.[v1]"); err != nil {
		t.Fatalf("IngestExisting: %v", err)
	}
}

func TestIngestNew(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.pipeline.IngestNew(ctx, "report.txt", strings.NewReader(docWithLines(120)))
	if err != nil {
		t.Fatalf("IngestNew: %v", err)
	}
	if res.Chunks != 3 || res.Embedded != 3 {
		t.Errorf("result = %+v, want 3 chunks all embedded", res)
	}
	if res.Generation == "" {
		t.Error("result has no generation id")
	}

	doc, err := env.store.GetDocument("report.txt")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.StagedName != res.StagedName {
		t.Errorf("stored staged name %q, result %q", doc.StagedName, res.StagedName)
	}
	if doc.Generation != res.Generation {
		t.Errorf("document generation %q, result %q", doc.Generation, res.Generation)
	}

	chunks, err := env.store.GetChunks("report.txt")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	for i, c := range chunks {
		if c.ChunkID != i+1 {
			t.Errorf("chunk %d has id %d", i, c.ChunkID)
		}
		if c.Generation != res.Generation {
			t.Errorf("chunk %d generation %q, want %q", c.ChunkID, c.Generation, res.Generation)
		}
	}
	missing, err := env.index.Missing("report.txt")
	if err != nil {
		t.Fatalf("Missing: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("%d chunks left unembedded", len(missing))
	}

	names, err := env.staging.List(ctx, staging.NamePattern("report.txt"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 {
		t.Errorf("staging holds %d blobs, want 1", len(names))
	}
}

func TestIngestNewReplacesPriorRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := docWithLines(120)

	first, err := env.pipeline.IngestNew(ctx, "report.txt", strings.NewReader(content))
	if err != nil {
		t.Fatalf("first IngestNew: %v", err)
	}
	second, err := env.pipeline.IngestNew(ctx, "report.txt", strings.NewReader(content))
	if err != nil {
		t.Fatalf("second IngestNew: %v", err)
	}
	if second.Generation == first.Generation {
		t.Error("re-ingestion reused the generation id")
	}

	chunks, err := env.store.GetChunks("report.txt")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks after re-ingestion, want 3", len(chunks))
	}
	for _, c := range chunks {
		if c.Generation != second.Generation {
			t.Errorf("chunk %d carries stale generation %q", c.ChunkID, c.Generation)
		}
	}
}

func TestIngestExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.pipeline.IngestNew(ctx, "report.txt", strings.NewReader(docWithLines(120)))
	if err != nil {
		t.Fatalf("IngestNew: %v", err)
	}

	res, err := env.pipeline.IngestExisting(ctx, "report.txt")
	if err != nil {
		t.Fatalf("IngestExisting: %v", err)
	}
	if res.StagedName != first.StagedName {
		t.Errorf("reprocess used staged name %q, want remembered %q", res.StagedName, first.StagedName)
	}
	if res.Chunks != 3 || res.Embedded != 3 {
		t.Errorf("result = %+v, want 3 chunks all embedded", res)
	}
}

func TestIngestExistingStagedFileNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipeline.IngestExisting(context.Background(), "missing.txt")
	if !errors.Is(err, ErrStagedFileNotFound) {
		t.Fatalf("IngestExisting = %v, want ErrStagedFileNotFound", err)
	}
	var stepError *StepError
	if !errors.As(err, &stepError) || stepError.Step != StepStage {
		t.Errorf("error not a stage StepError: %v", err)
	}
}

func TestIngestExistingByPatternMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Blob staged out of band: no Document record points at it.
	stagedName := staging.StagedName("orphan.txt")
	if err := env.staging.Put(ctx, stagedName, strings.NewReader(docWithLines(50))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	res, err := env.pipeline.IngestExisting(ctx, "orphan.txt")
	if err != nil {
		t.Fatalf("IngestExisting: %v", err)
	}
	if res.StagedName != stagedName {
		t.Errorf("resolved staged name %q, want %q", res.StagedName, stagedName)
	}
}

func TestEmbedFailureLeavesResumableState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.embedder.failOn = "line 041"
	env.embedder.failErr = errors.New("gateway down")

	_, err := env.pipeline.IngestNew(ctx, "report.txt", strings.NewReader(docWithLines(120)))
	var stepError *StepError
	if !errors.As(err, &stepError) || stepError.Step != StepEmbed {
		t.Fatalf("IngestNew = %v, want embed StepError", err)
	}

	// Chunk 1 was embedded before the failure and survives; the rest stay
	// unembedded and a backfill completes them.
	missing, err := env.index.Missing("report.txt")
	if err != nil {
		t.Fatalf("Missing: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("%d chunks missing embeddings, want 2", len(missing))
	}

	env.embedder.failOn = ""
	filled, err := env.pipeline.Backfill(ctx)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if filled != 2 {
		t.Errorf("Backfill filled %d, want 2", filled)
	}
}

func TestParseFailureLeavesNoDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A .pdf extension routes through the PDF extractor, which rejects this.
	_, err := env.pipeline.IngestNew(ctx, "broken.pdf", strings.NewReader("not a pdf"))
	var stepError *StepError
	if !errors.As(err, &stepError) || stepError.Step != StepParse {
		t.Fatalf("IngestNew = %v, want parse StepError", err)
	}

	if _, err := env.store.GetDocument("broken.pdf"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetDocument = %v, want ErrNotFound after parse failure", err)
	}
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.pipeline.IngestNew(ctx, "report.txt", strings.NewReader(docWithLines(120))); err != nil {
		t.Fatalf("IngestNew: %v", err)
	}

	if err := env.pipeline.Remove(ctx, "report.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := env.store.GetDocument("report.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("document still queryable after Remove: %v", err)
	}
	chunks, err := env.store.GetChunks("report.txt")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("%d chunks remain after Remove", len(chunks))
	}
	names, err := env.staging.List(ctx, staging.NamePattern("report.txt"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("staged blob remains after Remove: %v", names)
	}
}

func TestRemoveAbsentDocument(t *testing.T) {
	env := newTestEnv(t)
	if err := env.pipeline.Remove(context.Background(), "never-ingested.txt"); err != nil {
		t.Fatalf("Remove of absent document: %v", err)
	}
}

func TestBackfillNoMissingChunks(t *testing.T) {
	env := newTestEnv(t)
	filled, err := env.pipeline.Backfill(context.Background())
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if filled != 0 {
		t.Errorf("Backfill filled %d on empty corpus", filled)
	}
	if env.embedder.calls != 0 {
		t.Errorf("embedder called %d times with nothing to fill", env.embedder.calls)
	}
}
