package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/repoqa/repoqa/pkg/types"
)

var (
	// ErrNotFound is returned when a requested artifact doesn't exist
	ErrNotFound = errors.New("not found")
)

// DefaultSearchLimit caps keyword search results
const DefaultSearchLimit = 5

// Store persists artifact metadata in SQLite. It is the durable record
// of everything that has been indexed; the vector index holds only the
// embeddings.
type Store struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS code_metadata (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    parent TEXT,
    start_line INTEGER NOT NULL,
    end_line INTEGER,
    docstring TEXT,
    code TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_code_metadata_file_path ON code_metadata(file_path);
CREATE INDEX IF NOT EXISTS idx_code_metadata_name ON code_metadata(name);
`

// New creates a new artifact store backed by the database at dbPath
func New(dbPath string) (*Store, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes artifacts keyed by id, last write wins. Re-upserting
// identical artifacts leaves the store observably unchanged.
func (s *Store) Upsert(ctx context.Context, artifacts []*types.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO code_metadata (id, type, name, file_path, parent, start_line, end_line, docstring, code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			file_path = excluded.file_path,
			parent = excluded.parent,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			docstring = excluded.docstring,
			code = excluded.code`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, a := range artifacts {
		if a.ID == "" {
			return fmt.Errorf("artifact %s has no id", a.Name)
		}
		var parent any
		if a.Parent != "" {
			parent = a.Parent
		}
		var endLine any
		if a.EndLine != nil {
			endLine = *a.EndLine
		}
		var docstring any
		if a.Docstring != "" {
			docstring = a.Docstring
		}
		_, err := stmt.ExecContext(ctx,
			a.ID, string(a.Kind), a.Name, a.FilePath, parent,
			a.StartLine, endLine, docstring, a.Code)
		if err != nil {
			return fmt.Errorf("failed to upsert artifact %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// Get retrieves a single artifact by id
func (s *Store) Get(ctx context.Context, id string) (*types.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, name, file_path, parent, start_line, end_line, docstring, code
		FROM code_metadata WHERE id = ?`, id)

	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// Search performs case-insensitive substring matching over artifact
// name, type, and file path. Results come back in insertion order,
// capped at limit (DefaultSearchLimit when limit <= 0).
func (s *Store) Search(ctx context.Context, pattern string, limit int) ([]*types.Artifact, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	like := "%" + escapeLike(strings.ToLower(pattern)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, name, file_path, parent, start_line, end_line, docstring, code
		FROM code_metadata
		WHERE lower(name) LIKE ? ESCAPE '\'
		   OR lower(type) LIKE ? ESCAPE '\'
		   OR lower(file_path) LIKE ? ESCAPE '\'
		ORDER BY rowid
		LIMIT ?`, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	artifacts := make([]*types.Artifact, 0)
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// ListIDsByFile returns the ids of all artifacts recorded for a file
func (s *Store) ListIDsByFile(ctx context.Context, filePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM code_metadata WHERE file_path = ? ORDER BY rowid", filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids for %s: %w", filePath, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListFiles returns the distinct file paths with stored artifacts
func (s *Store) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT file_path FROM code_metadata ORDER BY file_path")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// DeleteIDs removes artifacts by id; missing ids are not an error
func (s *Store) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := "DELETE FROM code_metadata WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return nil
}

// Count returns the number of stored artifacts
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM code_metadata").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return n, nil
}

// CountFiles returns the number of distinct files with stored artifacts
func (s *Store) CountFiles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT file_path) FROM code_metadata").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (*types.Artifact, error) {
	var a types.Artifact
	var kind string
	var parent, docstring sql.NullString
	var endLine sql.NullInt64

	err := row.Scan(&a.ID, &kind, &a.Name, &a.FilePath, &parent,
		&a.StartLine, &endLine, &docstring, &a.Code)
	if err != nil {
		return nil, err
	}

	a.Kind = types.ArtifactKind(kind)
	if parent.Valid {
		a.Parent = parent.String
	}
	if endLine.Valid {
		end := int(endLine.Int64)
		a.EndLine = &end
	}
	if docstring.Valid {
		a.Docstring = docstring.String
	}
	return &a, nil
}

// escapeLike escapes LIKE metacharacters so patterns match literally
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
