package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding document, chunk, and admin records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "docchat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for the retrieval index, which shares
// the chunks table.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Documents ---

// SaveDocument inserts a Document record. The caller is expected to have
// removed any prior record for the same file name (the pipeline's dedup step).
func (s *Store) SaveDocument(doc Document) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (file_name, staged_name, parsed_content, generation, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.FileName, doc.StagedName, doc.ParsedContent, doc.Generation,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetDocument returns the Document for fileName, or ErrNotFound.
func (s *Store) GetDocument(fileName string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT file_name, staged_name, parsed_content, generation, created_at
		FROM documents WHERE file_name = ?`, fileName,
	).Scan(&d.FileName, &d.StagedName, &d.ParsedContent, &d.Generation, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// DeleteDocument removes the Document record and all Chunk records for
// fileName in one transaction. Absence of prior records is not an error,
// which makes the pipeline's dedup step idempotent.
func (s *Store) DeleteDocument(fileName string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM chunks WHERE file_name = ?", fileName); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting chunks for %s: %w", fileName, err)
	}
	if _, err := tx.Exec("DELETE FROM documents WHERE file_name = ?", fileName); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting document %s: %w", fileName, err)
	}
	return tx.Commit()
}

// ListDocuments returns listing views of all documents with chunk and
// embedding counts, ordered by creation time descending.
func (s *Store) ListDocuments(limit, offset int) ([]DocumentInfo, error) {
	rows, err := s.db.Query(`
		SELECT d.file_name, d.staged_name, d.generation, d.created_at,
			COUNT(c.chunk_id),
			COUNT(c.embedding)
		FROM documents d
		LEFT JOIN chunks c ON c.file_name = d.file_name
		GROUP BY d.file_name
		ORDER BY d.created_at DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		var createdAt string
		if err := rows.Scan(&info.FileName, &info.StagedName, &info.Generation, &createdAt, &info.Chunks, &info.Embedded); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		info.CreatedAt = t
		results = append(results, info)
	}
	return results, rows.Err()
}

// --- Chunks ---

// InsertChunks inserts the retained chunk texts for fileName with contiguous
// 1-based chunk ids, all without embeddings. Runs in one transaction so a
// failure leaves no partial chunk set behind.
func (s *Store) InsertChunks(fileName, generation string, texts []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (file_name, chunk_id, chunk_text, embedding, generation)
		VALUES (?, ?, ?, NULL, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for i, text := range texts {
		if _, err := stmt.Exec(fileName, i+1, text, generation); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// GetChunks returns all chunks for fileName ordered by chunk id.
func (s *Store) GetChunks(fileName string) ([]Chunk, error) {
	rows, err := s.db.Query(`
		SELECT file_name, chunk_id, chunk_text, generation
		FROM chunks WHERE file_name = ? ORDER BY chunk_id ASC`, fileName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.FileName, &c.ChunkID, &c.Text, &c.Generation); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Admins ---

// AddAdmin inserts an allowlist entry. Adding an existing email is a no-op.
func (s *Store) AddAdmin(email string) error {
	_, err := s.db.Exec(`
		INSERT INTO admins (email, added_at) VALUES (?, ?)
		ON CONFLICT(email) DO NOTHING`,
		email, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// RemoveAdmin deletes an allowlist entry, returning ErrNotFound when absent.
// The minimum-one-admin invariant is enforced by admins.Manager, not here.
func (s *Store) RemoveAdmin(email string) error {
	res, err := s.db.Exec("DELETE FROM admins WHERE email = ?", email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAdmins returns all allowlist entries ordered by email.
func (s *Store) ListAdmins() ([]Admin, error) {
	rows, err := s.db.Query("SELECT email, added_at FROM admins ORDER BY email ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []Admin
	for rows.Next() {
		var a Admin
		var addedAt string
		if err := rows.Scan(&a.Email, &addedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, addedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		a.AddedAt = t
		admins = append(admins, a)
	}
	return admins, rows.Err()
}
