package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/repoqa/repoqa/internal/embedder"
	"github.com/repoqa/repoqa/internal/indexer"
	"github.com/repoqa/repoqa/internal/parser"
	"github.com/repoqa/repoqa/internal/retriever"
	"github.com/repoqa/repoqa/internal/store"
	"github.com/repoqa/repoqa/internal/vectorindex"
)

// PipelineTestSuite exercises the full index-then-retrieve pipeline
// against a copy of the Python fixture repository
type PipelineTestSuite struct {
	suite.Suite
	ctx         context.Context
	fixturesDir string

	repoDir   string
	store     *store.Store
	index     *vectorindex.Embedded
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
}

func (s *PipelineTestSuite) SetupSuite() {
	s.ctx = context.Background()

	wd, err := os.Getwd()
	s.Require().NoError(err)
	s.fixturesDir = filepath.Join(filepath.Dir(wd), "testdata", "fixtures")

	_, err = os.Stat(s.fixturesDir)
	s.Require().NoError(err, "fixtures directory should exist")
}

func (s *PipelineTestSuite) SetupTest() {
	dir := s.T().TempDir()

	st, err := store.New(filepath.Join(dir, "metadata.db"))
	s.Require().NoError(err)
	s.store = st

	idx, err := vectorindex.NewEmbedded(filepath.Join(dir, "vectors.db"))
	s.Require().NoError(err)
	s.index = idx

	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.indexer = indexer.New(parser.NewRegistry(), emb, idx, st, logger)
	s.retriever = retriever.New(emb, idx, st, logger)

	// Work on a copy so tests can mutate the repository
	s.repoDir = filepath.Join(dir, "repo")
	s.Require().NoError(copyDir(s.fixturesDir, filepath.Join(s.repoDir, "src")))
}

func (s *PipelineTestSuite) TearDownTest() {
	_ = s.index.Close()
	_ = s.store.Close()
}

func (s *PipelineTestSuite) TestFullIndex() {
	stats, err := s.indexer.IndexRepository(s.ctx, s.repoDir, nil)
	s.Require().NoError(err)

	s.Equal(3, stats.FilesParsed)
	s.Equal(0, stats.FilesFailed)
	s.Equal(13, stats.ArtifactsIndexed)

	stored, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(13, stored)

	vectors, err := s.index.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(13, vectors)
}

func (s *PipelineTestSuite) TestReindexIsIdempotent() {
	_, err := s.indexer.IndexRepository(s.ctx, s.repoDir, nil)
	s.Require().NoError(err)

	idsBefore := s.allIDs()

	stats, err := s.indexer.IndexRepository(s.ctx, s.repoDir, nil)
	s.Require().NoError(err)
	s.Equal(0, stats.ArtifactsDeleted)

	s.Equal(idsBefore, s.allIDs())
}

func (s *PipelineTestSuite) TestIncrementalChangeTouchesOnlyChangedFile() {
	_, err := s.indexer.IndexRepository(s.ctx, s.repoDir, nil)
	s.Require().NoError(err)

	modelsBefore, err := s.store.ListIDsByFile(s.ctx, "src/models.py")
	s.Require().NoError(err)
	utilsBefore, err := s.store.ListIDsByFile(s.ctx, "src/utils.py")
	s.Require().NoError(err)

	// Change one function body in utils.py
	utilsPath := filepath.Join(s.repoDir, "src", "utils.py")
	changed := []byte(`def slugify(text):
    """Lowercase and hyphenate a string."""
    return text.strip().lower().replace(" ", "-")


def clamp(value, low, high):
    return max(low, min(value, high))
`)
	s.Require().NoError(os.WriteFile(utilsPath, changed, 0o644))

	stats, err := s.indexer.IndexRepository(s.ctx, s.repoDir, &indexer.Options{
		ChangedFiles: []string{"src/utils.py"},
	})
	s.Require().NoError(err)

	// Only slugify's id changes; clamp keeps its content and position
	s.Equal(1, stats.ArtifactsDeleted)
	s.Equal(2, stats.ArtifactsIndexed)

	modelsAfter, err := s.store.ListIDsByFile(s.ctx, "src/models.py")
	s.Require().NoError(err)
	s.Equal(modelsBefore, modelsAfter)

	utilsAfter, err := s.store.ListIDsByFile(s.ctx, "src/utils.py")
	s.Require().NoError(err)
	s.Len(utilsAfter, len(utilsBefore))
	s.NotEqual(utilsBefore, utilsAfter)
}

func (s *PipelineTestSuite) TestIncrementalRemovesDeletedFile() {
	_, err := s.indexer.IndexRepository(s.ctx, s.repoDir, nil)
	s.Require().NoError(err)

	s.Require().NoError(os.Remove(filepath.Join(s.repoDir, "src", "utils.py")))

	stats, err := s.indexer.IndexRepository(s.ctx, s.repoDir, &indexer.Options{
		ChangedFiles: []string{"src/utils.py"},
	})
	s.Require().NoError(err)
	s.Equal(2, stats.ArtifactsDeleted)
	s.Equal(1, stats.FilesRemoved)

	ids, err := s.store.ListIDsByFile(s.ctx, "src/utils.py")
	s.Require().NoError(err)
	s.Empty(ids)

	vectors, err := s.index.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(11, vectors)
}

func (s *PipelineTestSuite) TestRetrieveAfterIndex() {
	_, err := s.indexer.IndexRepository(s.ctx, s.repoDir, nil)
	s.Require().NoError(err)

	results, err := s.retriever.Retrieve(s.ctx, "how does login work?", retriever.DefaultTopK)
	s.Require().NoError(err)
	s.Require().Len(results, retriever.DefaultTopK)

	for _, r := range results {
		s.Equal(retriever.SourceSemantic, r.Source)
		s.NotEmpty(r.ID)
		s.NotEmpty(r.Snippet)
	}

	rendered := retriever.RenderContext(results)
	s.NotEqual(retriever.NoContextFound, rendered)
	s.Contains(rendered, "File: ")
}

func (s *PipelineTestSuite) TestKeywordFallbackOnEmptyIndex() {
	// Wipe the vector side after indexing to force the fallback stage
	_, err := s.indexer.IndexRepository(s.ctx, s.repoDir, nil)
	s.Require().NoError(err)

	var ids []string
	for _, fileIDs := range s.allIDs() {
		ids = append(ids, fileIDs...)
	}
	s.Require().NoError(s.index.Delete(s.ctx, ids))

	results, err := s.retriever.Retrieve(s.ctx, "authenticate", 3)
	s.Require().NoError(err)
	s.Require().NotEmpty(results)
	s.Equal(retriever.SourceKeyword, results[0].Source)
	s.Equal("authenticate", results[0].Name)
}

// allIDs returns every stored id grouped by file for comparison
func (s *PipelineTestSuite) allIDs() map[string][]string {
	files, err := s.store.ListFiles(s.ctx)
	s.Require().NoError(err)

	out := make(map[string][]string, len(files))
	for _, f := range files {
		ids, err := s.store.ListIDsByFile(s.ctx, f)
		s.Require().NoError(err)
		out[f] = ids
	}
	return out
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dstPath, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}
