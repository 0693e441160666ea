package vectorindex

import (
	"context"
	"fmt"
	"strings"
)

// Metadata is the artifact metadata stored alongside each vector
type Metadata struct {
	Kind      string
	Name      string
	FilePath  string
	Parent    string
	StartLine int
	EndLine   *int
}

// Entry is one upsert record: id, embedding, metadata, and the
// document text the embedding was computed from
type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
	Document string
}

// Match is one nearest-neighbor query result
type Match struct {
	ID       string
	Metadata Metadata
	Document string
	Distance float64
}

// Index is the vector store capability. Upsert is keyed by id and
// idempotent; Query returns matches in ascending-distance order,
// nearest first, with ties left in store order.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backend names
const (
	BackendEmbedded = "embedded"
	BackendQdrant   = "qdrant"
)

// Config selects and configures an index backend
type Config struct {
	Backend    string
	Path       string // Embedded: database file path
	Addr       string // Qdrant: gRPC address
	Collection string // Qdrant: collection name
	Dimension  int    // Vector dimension, required for qdrant collection creation
}

// New constructs an Index from configuration
func New(ctx context.Context, cfg Config) (Index, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendEmbedded, "":
		return NewEmbedded(cfg.Path)
	case BackendQdrant:
		return NewQdrant(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown vector index backend: %s", cfg.Backend)
	}
}
