// Package indexer coordinates the indexing pipeline.
//
// A run parses source files into artifacts, assigns each artifact a
// deterministic id, removes stored artifacts the fresh parse no longer
// produces, then embeds and upserts the rest in batches. Because ids
// are content addressed and upserts are last-write-wins, re-running the
// indexer over an unchanged repository is a no-op in both stores.
//
// # Basic Usage
//
//	idx := indexer.New(registry, embedder, index, store, logger)
//
//	stats, err := idx.IndexRepository(ctx, "/path/to/repo", &indexer.Options{
//	    ChangedFiles: []string{"src/models.py"},
//	})
//
//	fmt.Printf("Indexed %d artifacts in %v\n", stats.ArtifactsIndexed, stats.Duration)
//
// Incremental runs restrict the diff-and-delete step to the changed
// files; a full run additionally clears artifacts of files that no
// longer exist in the repository.
package indexer
