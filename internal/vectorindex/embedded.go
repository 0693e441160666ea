package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Embedded is a SQLite-backed vector index. Vectors are stored as
// little-endian float32 blobs; nearest-neighbor queries compute cosine
// distance in Go over all rows, which is adequate for the artifact
// counts of a single repository.
type Embedded struct {
	db *sql.DB
}

// NewEmbedded opens (or creates) an embedded vector index at path
func NewEmbedded(path string) (*Embedded, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	// WAL keeps concurrent readers from blocking the single writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(embeddedSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply vector index schema: %w", err)
	}

	return &Embedded{db: db}, nil
}

const embeddedSchema = `
CREATE TABLE IF NOT EXISTS vectors (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    parent TEXT,
    start_line INTEGER NOT NULL,
    end_line INTEGER,
    document TEXT NOT NULL,
    dimension INTEGER NOT NULL,
    vector BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vectors_file_path ON vectors(file_path);
`

// Close closes the underlying database
func (e *Embedded) Close() error {
	return e.db.Close()
}

// Upsert inserts or replaces entries keyed by id. Re-upserting an
// unchanged entry leaves the store observably unchanged.
func (e *Embedded) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (id, kind, name, file_path, parent, start_line, end_line, document, dimension, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			file_path = excluded.file_path,
			parent = excluded.parent,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			document = excluded.document,
			dimension = excluded.dimension,
			vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		var parent any
		if entry.Metadata.Parent != "" {
			parent = entry.Metadata.Parent
		}
		var endLine any
		if entry.Metadata.EndLine != nil {
			endLine = *entry.Metadata.EndLine
		}
		_, err := stmt.ExecContext(ctx,
			entry.ID,
			entry.Metadata.Kind,
			entry.Metadata.Name,
			entry.Metadata.FilePath,
			parent,
			entry.Metadata.StartLine,
			endLine,
			entry.Document,
			len(entry.Vector),
			serializeVector(entry.Vector),
		)
		if err != nil {
			return fmt.Errorf("upsert vector %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Query returns the k nearest entries by cosine distance, ascending.
// Ties keep insertion order (rowid), no secondary sort key.
func (e *Embedded) Query(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, kind, name, file_path, parent, start_line, end_line, document, vector
		FROM vectors ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var m Match
		var parent sql.NullString
		var endLine sql.NullInt64
		var blob []byte
		if err := rows.Scan(&m.ID, &m.Metadata.Kind, &m.Metadata.Name, &m.Metadata.FilePath,
			&parent, &m.Metadata.StartLine, &endLine, &m.Document, &blob); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		if parent.Valid {
			m.Metadata.Parent = parent.String
		}
		if endLine.Valid {
			end := int(endLine.Int64)
			m.Metadata.EndLine = &end
		}

		stored := deserializeVector(blob)
		m.Distance = cosineDistance(vector, stored)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes entries by id; missing ids are not an error
func (e *Embedded) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete vector %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// Count returns the number of stored vectors
func (e *Embedded) Count(ctx context.Context) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

// serializeVector encodes a float32 slice as little-endian bytes
func serializeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector decodes the blob written by serializeVector
func deserializeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosineDistance returns 1 - cosine similarity. Mismatched dimensions
// and zero vectors map to the maximum distance.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
