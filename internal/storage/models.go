package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is one ingested source file. FileName is the logical key:
// re-ingesting the same name fully replaces the document and its chunks.
type Document struct {
	FileName      string
	StagedName    string
	ParsedContent string
	Generation    string // ingestion run id; matches its chunks when the run completed
	CreatedAt     time.Time
}

// DocumentInfo is a listing view of a Document without the parsed content.
type DocumentInfo struct {
	FileName   string    `json:"file_name"`
	StagedName string    `json:"staged_name"`
	Generation string    `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	Chunks     int       `json:"chunks"`
	Embedded   int       `json:"embedded"`
}

// Chunk is a contiguous window of a document's lines. ChunkID is 1-based and
// contiguous within a document. Embedding stays nil until filled.
type Chunk struct {
	FileName   string
	ChunkID    int
	Text       string
	Embedding  []float32
	Generation string
}

// Admin is one allowlisted operator.
type Admin struct {
	Email   string    `json:"email"`
	AddedAt time.Time `json:"added_at"`
}
