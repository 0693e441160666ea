package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/repoqa/repoqa/internal/embedder"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/vectorindex"
)

const (
	// DefaultTopK is the number of nearest neighbors fetched per question
	DefaultTopK = 3

	// NoContextFound is rendered when neither retrieval stage matches
	NoContextFound = "No relevant context found."
)

// Source identifies which retrieval stage produced a result
type Source string

const (
	SourceSemantic Source = "semantic"
	SourceKeyword  Source = "keyword"
)

// Result is one retrieved artifact
type Result struct {
	ID        string
	Kind      string
	Name      string
	FilePath  string
	Parent    string
	StartLine int
	EndLine   *int
	Snippet   string
	Distance  float64
	Source    Source
}

// Retriever answers questions with artifact context using two stages:
// vector similarity first, keyword substring matching over the metadata
// store when similarity finds nothing.
type Retriever struct {
	embedder embedder.Embedder
	index    vectorindex.Index
	store    *store.Store
	logger   *slog.Logger
}

// New creates a Retriever over the given stores
func New(emb embedder.Embedder, index vectorindex.Index, st *store.Store, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: emb,
		index:    index,
		store:    st,
		logger:   logger,
	}
}

// Retrieve returns up to k artifacts relevant to the question, nearest
// first. Duplicate ids keep only their first (nearest) occurrence. When
// similarity search matches nothing the keyword fallback runs instead;
// an empty slice means neither stage matched.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]Result, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	matches, err := r.index.Query(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	results := dedupe(matches)
	if len(results) > 0 {
		return results, nil
	}

	r.logger.Debug("similarity search empty, falling back to keyword search", "question", question)
	return r.keywordSearch(ctx, question)
}

// keywordSearch is the fallback stage over the metadata store
func (r *Retriever) keywordSearch(ctx context.Context, question string) ([]Result, error) {
	artifacts, err := r.store.Search(ctx, question, store.DefaultSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]Result, len(artifacts))
	for i, a := range artifacts {
		results[i] = Result{
			ID:        a.ID,
			Kind:      string(a.Kind),
			Name:      a.Name,
			FilePath:  a.FilePath,
			Parent:    a.Parent,
			StartLine: a.StartLine,
			EndLine:   a.EndLine,
			Snippet:   a.Code,
			Source:    SourceKeyword,
		}
	}
	return results, nil
}

// dedupe converts matches to results, keeping only the first occurrence
// of each id so order stays nearest first
func dedupe(matches []vectorindex.Match) []Result {
	seen := make(map[string]bool, len(matches))
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		results = append(results, Result{
			ID:        m.ID,
			Kind:      m.Metadata.Kind,
			Name:      m.Metadata.Name,
			FilePath:  m.Metadata.FilePath,
			Parent:    m.Metadata.Parent,
			StartLine: m.Metadata.StartLine,
			EndLine:   m.Metadata.EndLine,
			Snippet:   m.Document,
			Distance:  m.Distance,
			Source:    SourceSemantic,
		})
	}
	return results
}

// RenderContext formats results into the context block handed to the
// completion model
func RenderContext(results []Result) string {
	if len(results) == 0 {
		return NoContextFound
	}

	var b strings.Builder
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		switch res.Source {
		case SourceKeyword:
			end := res.StartLine
			if res.EndLine != nil {
				end = *res.EndLine
			}
			fmt.Fprintf(&b, "%s '%s' in %s (Lines %d-%d)\n", res.Kind, res.Name, res.FilePath, res.StartLine, end)
		default:
			fmt.Fprintf(&b, "File: %s, Name: %s, Type: %s, Code:\n%s\n", res.FilePath, res.Name, res.Kind, res.Snippet)
		}
	}
	return b.String()
}
