package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// ChunkRef identifies one chunk and carries its text.
type ChunkRef struct {
	FileName string
	ChunkID  int
	Text     string
}

// ScoredChunk is a ChunkRef with a cosine similarity score attached.
type ScoredChunk struct {
	ChunkRef
	Score float32
}

// Index provides brute-force cosine similarity search over the chunks table,
// plus the embedding-fill operations the ingestion pipeline needs. It shares
// the storage layer's SQLite database.
//
// A linear scan is fine at this corpus size (hundreds of documents); if the
// chunk count ever makes query latency noticeable, this is the seam to swap
// in an ANN-backed store.
type Index struct {
	db *sql.DB
}

// NewIndex wraps an existing *sql.DB for vector operations. The chunks table
// must already exist (created via storage migrations).
func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

// SetEmbedding fills the embedding of one chunk. It only ever fills NULLs:
// a non-null vector is immutable until re-chunking deletes the row, so a
// stored vector always corresponds to the exact current chunk text.
func (x *Index) SetEmbedding(fileName string, chunkID int, vec []float32) error {
	res, err := x.db.Exec(
		"UPDATE chunks SET embedding = ? WHERE file_name = ? AND chunk_id = ? AND embedding IS NULL",
		encodeFloat32s(vec), fileName, chunkID,
	)
	if err != nil {
		return fmt.Errorf("setting embedding for %s/%d: %w", fileName, chunkID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chunk %s/%d missing or already embedded", fileName, chunkID)
	}
	return nil
}

// Missing returns the chunks of fileName that have no embedding yet, in
// chunk id order.
func (x *Index) Missing(fileName string) ([]ChunkRef, error) {
	return x.queryRefs(
		"SELECT file_name, chunk_id, chunk_text FROM chunks WHERE file_name = ? AND embedding IS NULL ORDER BY chunk_id ASC",
		fileName,
	)
}

// MissingAll returns every chunk in the corpus lacking an embedding.
func (x *Index) MissingAll() ([]ChunkRef, error) {
	return x.queryRefs(
		"SELECT file_name, chunk_id, chunk_text FROM chunks WHERE embedding IS NULL ORDER BY file_name ASC, chunk_id ASC",
	)
}

// Range returns the chunks of fileName with ids in [lo, hi], ascending.
// Ids outside the document's chunk range are silently absent.
func (x *Index) Range(fileName string, lo, hi int) ([]ChunkRef, error) {
	return x.queryRefs(
		"SELECT file_name, chunk_id, chunk_text FROM chunks WHERE file_name = ? AND chunk_id BETWEEN ? AND ? ORDER BY chunk_id ASC",
		fileName, lo, hi,
	)
}

// CountEmbedded returns the number of chunks with a filled embedding.
func (x *Index) CountEmbedded() (int, error) {
	var count int
	err := x.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL").Scan(&count)
	return count, err
}

func (x *Index) queryRefs(query string, args ...any) ([]ChunkRef, error) {
	rows, err := x.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []ChunkRef
	for rows.Next() {
		var r ChunkRef
		if err := rows.Scan(&r.FileName, &r.ChunkID, &r.Text); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// chunkKey identifies a chunk during the scan phase of Search.
type chunkKey struct {
	FileName string
	ChunkID  int
}

type keyScore struct {
	Key   chunkKey
	Score float32
}

// Search performs brute-force cosine similarity search over all embedded
// chunks, returning the topK most similar, ordered by score descending with
// ties broken by file name then chunk id ascending. A corpus with zero
// embedded chunks yields a nil result and nil error.
func (x *Index) Search(vector []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only keys + embeddings to find top-K candidates.
	// The fixed scan order keeps heap evictions, and therefore results,
	// reproducible across runs.
	rows, err := x.db.Query(
		"SELECT file_name, chunk_id, embedding FROM chunks WHERE embedding IS NOT NULL ORDER BY file_name ASC, chunk_id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	h := &keyScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var key chunkKey
		var blob []byte
		if err := rows.Scan(&key.FileName, &key.ChunkID, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s/%d: %w", key.FileName, key.ChunkID, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, keyScore{Key: key, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = keyScore{Key: key, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch texts only for the winners.
	results := make([]ScoredChunk, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(keyScore)
		var text string
		err := x.db.QueryRow(
			"SELECT chunk_text FROM chunks WHERE file_name = ? AND chunk_id = ?",
			item.Key.FileName, item.Key.ChunkID,
		).Scan(&text)
		if err != nil {
			return nil, fmt.Errorf("fetching chunk %s/%d: %w", item.Key.FileName, item.Key.ChunkID, err)
		}
		results = append(results, ScoredChunk{
			ChunkRef: ChunkRef{FileName: item.Key.FileName, ChunkID: item.Key.ChunkID, Text: text},
			Score:    item.Score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].FileName != results[j].FileName {
			return results[i].FileName < results[j].FileName
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	return results, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans. Returns an
// error if the byte slice length is not a multiple of 4 (data corruption).
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// keyScoreHeap is a min-heap of keyScore ordered by Score, used to track
// top-K candidates during the scan phase of Search.
type keyScoreHeap []keyScore

func (h keyScoreHeap) Len() int            { return len(h) }
func (h keyScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h keyScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyScoreHeap) Push(x interface{}) { *h = append(*h, x.(keyScore)) }
func (h *keyScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
