package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/repoqa/repoqa/internal/embedder"
	"github.com/repoqa/repoqa/internal/parser"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/vectorindex"
	"github.com/repoqa/repoqa/pkg/types"
)

// ErrIndexInProgress is returned when an index run is requested while
// another one is still running
var ErrIndexInProgress = errors.New("indexing already in progress")

// skipDirs are directory names excluded from repository walks
var skipDirs = map[string]bool{
	"venv":         true,
	".venv":        true,
	"env":          true,
	"__pycache__":  true,
	"node_modules": true,
	"vendor":       true,
}

// Indexer coordinates the indexing pipeline: parse -> identify -> embed -> store
type Indexer struct {
	registry *parser.Registry
	embedder embedder.Embedder
	index    vectorindex.Index
	store    *store.Store
	logger   *slog.Logger

	lock IndexLock
}

// Options controls a single index run
type Options struct {
	// ChangedFiles restricts the run to the given repository-relative
	// paths. Paths that no longer exist on disk have their stored
	// artifacts removed. Empty means index the whole repository.
	ChangedFiles []string

	// Full forces a whole-repository walk even when ChangedFiles is set,
	// and removes stored artifacts for files no longer present.
	Full bool

	// Workers bounds concurrent file parsing (default: runtime.NumCPU())
	Workers int

	// BatchSize is the embed-and-upsert batch size. Defaults to and is
	// capped at the embedder's maximum batch size.
	BatchSize int

	// SnapshotPath, when set, writes a Parquet snapshot of the artifacts
	// indexed by this run
	SnapshotPath string
}

// Statistics summarizes an index run
type Statistics struct {
	FilesParsed      int
	FilesFailed      int
	FilesRemoved     int
	ArtifactsIndexed int
	ArtifactsDeleted int
	Duration         time.Duration
	ErrorMessages    []string
}

// New creates an Indexer wired to the given pipeline stages
func New(registry *parser.Registry, emb embedder.Embedder, index vectorindex.Index, st *store.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		registry: registry,
		embedder: emb,
		index:    index,
		store:    st,
		logger:   logger,
	}
}

// fileResult is the outcome of parsing one target file
type fileResult struct {
	relPath   string
	artifacts []*types.Artifact
	missing   bool
}

// IndexRepository indexes the repository rooted at rootPath. The run is
// idempotent: re-indexing an unchanged repository leaves both stores
// observably unchanged. Only one run may be active at a time.
func (idx *Indexer) IndexRepository(ctx context.Context, rootPath string, opts *Options) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer idx.lock.Release()

	if opts == nil {
		opts = &Options{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > embedder.MaxBatchSize {
		batchSize = embedder.MaxBatchSize
	}

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	incremental := len(opts.ChangedFiles) > 0 && !opts.Full

	var targets []string
	if incremental {
		targets = normalizePaths(opts.ChangedFiles)
	} else {
		var err error
		targets, err = idx.discoverFiles(rootPath)
		if err != nil {
			return nil, fmt.Errorf("failed to discover files: %w", err)
		}
	}

	results, err := idx.parseFiles(ctx, rootPath, targets, workers, stats)
	if err != nil {
		return nil, err
	}

	// Assign deterministic ids before diffing against stored state
	var artifacts []*types.Artifact
	for _, res := range results {
		for _, a := range res.artifacts {
			a.AssignID()
			artifacts = append(artifacts, a)
		}
	}

	deleted, err := idx.removeStale(ctx, results, targets, !incremental, stats)
	if err != nil {
		return nil, err
	}
	stats.ArtifactsDeleted = deleted

	if err := idx.embedAndStore(ctx, artifacts, batchSize, workers); err != nil {
		return nil, err
	}
	stats.ArtifactsIndexed = len(artifacts)

	if opts.SnapshotPath != "" {
		if err := WriteSnapshot(opts.SnapshotPath, artifacts); err != nil {
			return nil, fmt.Errorf("failed to write snapshot: %w", err)
		}
	}

	stats.Duration = time.Since(start)
	idx.logger.Info("index run complete",
		"files_parsed", stats.FilesParsed,
		"files_failed", stats.FilesFailed,
		"artifacts_indexed", stats.ArtifactsIndexed,
		"artifacts_deleted", stats.ArtifactsDeleted,
		"duration", stats.Duration)
	return stats, nil
}

// discoverFiles walks the repository and returns relative paths of all
// files with a registered grammar, in walk order
func (idx *Indexer) discoverFiles(rootPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := info.Name()
			if path != rootPath && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		if _, ok := idx.registry.ForFile(path); !ok {
			return nil
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})

	return files, err
}

// parseFiles parses the target files concurrently. Files that fail to
// parse are logged and skipped; their stored artifacts are retained.
// Files that no longer exist come back flagged missing so their stored
// artifacts can be removed.
func (idx *Indexer) parseFiles(ctx context.Context, rootPath string, targets []string, workers int, stats *Statistics) ([]*fileResult, error) {
	results := make([]*fileResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var mu sync.Mutex

	for i, relPath := range targets {
		g.Go(func() error {
			p, ok := idx.registry.ForFile(relPath)
			if !ok {
				return nil
			}

			absPath := filepath.Join(rootPath, filepath.FromSlash(relPath))
			src, err := os.ReadFile(absPath)
			if errors.Is(err, os.ErrNotExist) {
				results[i] = &fileResult{relPath: relPath, missing: true}
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", relPath, err)
			}

			parsed, err := p.Parse(gctx, relPath, src)
			if err != nil {
				idx.logger.Warn("skipping unparseable file", "file", relPath, "error", err)
				mu.Lock()
				stats.FilesFailed++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", relPath, err))
				mu.Unlock()
				return nil
			}

			arts := make([]*types.Artifact, len(parsed.Artifacts))
			for j := range parsed.Artifacts {
				arts[j] = &parsed.Artifacts[j]
			}
			results[i] = &fileResult{relPath: relPath, artifacts: arts}
			mu.Lock()
			stats.FilesParsed++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*fileResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// removeStale deletes stored artifacts whose ids no longer appear in the
// fresh parse of their file. On full runs it also removes every artifact
// of files that vanished from the repository.
func (idx *Indexer) removeStale(ctx context.Context, results []*fileResult, targets []string, full bool, stats *Statistics) (int, error) {
	var stale []string

	for _, res := range results {
		oldIDs, err := idx.store.ListIDsByFile(ctx, res.relPath)
		if err != nil {
			return 0, err
		}
		if len(oldIDs) == 0 {
			continue
		}

		fresh := make(map[string]bool, len(res.artifacts))
		for _, a := range res.artifacts {
			fresh[a.ID] = true
		}
		for _, id := range oldIDs {
			if !fresh[id] {
				stale = append(stale, id)
			}
		}
		if res.missing {
			stats.FilesRemoved++
		}
	}

	if full {
		targetSet := make(map[string]bool, len(targets))
		for _, t := range targets {
			targetSet[t] = true
		}
		storedFiles, err := idx.store.ListFiles(ctx)
		if err != nil {
			return 0, err
		}
		for _, f := range storedFiles {
			if targetSet[f] {
				continue
			}
			ids, err := idx.store.ListIDsByFile(ctx, f)
			if err != nil {
				return 0, err
			}
			stale = append(stale, ids...)
			stats.FilesRemoved++
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	if err := idx.store.DeleteIDs(ctx, stale); err != nil {
		return 0, fmt.Errorf("failed to delete stale artifacts: %w", err)
	}
	if err := idx.index.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("failed to delete stale vectors: %w", err)
	}
	return len(stale), nil
}

// embedAndStore embeds artifacts in batches and upserts each batch into
// both the metadata store and the vector index. Batches run concurrently;
// per-batch failures abort the run.
func (idx *Indexer) embedAndStore(ctx context.Context, artifacts []*types.Artifact, batchSize, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(artifacts); start += batchSize {
		end := min(start+batchSize, len(artifacts))
		batch := artifacts[start:end]

		g.Go(func() error {
			if err := idx.embedBatch(gctx, batch); err != nil {
				return err
			}
			if err := idx.store.Upsert(gctx, batch); err != nil {
				return err
			}
			return idx.index.Upsert(gctx, toEntries(batch))
		})
	}

	return g.Wait()
}

// embedBatch fills in Embedding for every artifact in the batch.
// Artifacts with no code get a zero vector without calling the provider.
func (idx *Indexer) embedBatch(ctx context.Context, batch []*types.Artifact) error {
	texts := make([]string, 0, len(batch))
	indices := make([]int, 0, len(batch))
	for i, a := range batch {
		if strings.TrimSpace(a.Code) == "" {
			a.Embedding = embedder.ZeroVector(idx.embedder.Dimension())
			continue
		}
		texts = append(texts, buildDocument(a))
		indices = append(indices, i)
	}

	if len(texts) == 0 {
		return nil
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	for j, i := range indices {
		batch[i].Embedding = vectors[j]
	}
	return nil
}

// buildDocument forms the text that gets embedded for an artifact. The
// docstring and enclosing class are appended so natural language
// questions can match on more than raw code.
func buildDocument(a *types.Artifact) string {
	var b strings.Builder
	b.WriteString(a.Code)
	if a.Docstring != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Docstring)
	}
	if a.Parent != "" {
		b.WriteString("\n\nClass: ")
		b.WriteString(a.Parent)
	}
	return b.String()
}

// toEntries converts embedded artifacts to vector index entries
func toEntries(artifacts []*types.Artifact) []vectorindex.Entry {
	entries := make([]vectorindex.Entry, len(artifacts))
	for i, a := range artifacts {
		entries[i] = vectorindex.Entry{
			ID:     a.ID,
			Vector: a.Embedding,
			Metadata: vectorindex.Metadata{
				Kind:      string(a.Kind),
				Name:      a.Name,
				FilePath:  a.FilePath,
				Parent:    a.Parent,
				StartLine: a.StartLine,
				EndLine:   a.EndLine,
			},
			Document: buildDocument(a),
		}
	}
	return entries
}

// normalizePaths cleans changed-file paths to slash-separated relative
// form, dropping duplicates and sorting for deterministic runs
func normalizePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		clean := filepath.ToSlash(filepath.Clean(p))
		if clean == "." || clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	sort.Strings(out)
	return out
}
