package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrBatchTooLarge  = errors.New("batch size exceeds limit")
	ErrProviderFailed = errors.New("embedding provider failed")
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// MaxBatchSize bounds the number of texts per provider call
const MaxBatchSize = 100

// Embedder converts text into fixed-dimension vectors. The service is
// constructed once at process start and passed by handle into
// indexing and retrieval; it is never ambient global state.
type Embedder interface {
	// Embed returns the embedding vector for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed vector dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Close releases any resources held by the embedder
	Close() error
}

// ZeroVector returns the degenerate all-zero embedding of the given
// dimension, used for artifacts with empty code text
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// ComputeHash returns the cache key for a text
func ComputeHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		// Only reachable with a non-positive size
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get retrieves a copy of a cached vector. A copy is returned so
// caller mutations cannot pollute the cache.
func (c *Cache) Get(hash string) ([]float32, bool) {
	vec, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Set stores a vector, evicting the least recently used entry at capacity
func (c *Cache) Set(hash string, vec []float32) {
	c.cache.Add(hash, vec)
}

// Len returns the current cache size
func (c *Cache) Len() int {
	return c.cache.Len()
}
