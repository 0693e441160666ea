package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoqa/repoqa/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeArtifact(t *testing.T, kind types.ArtifactKind, name, filePath string, startLine int) *types.Artifact {
	t.Helper()
	a := &types.Artifact{
		Kind:      kind,
		Name:      name,
		FilePath:  filePath,
		StartLine: startLine,
		Code:      fmt.Sprintf("def %s(): pass", name),
	}
	if kind == types.KindClass {
		a.Code = fmt.Sprintf("class %s: pass", name)
	}
	a.AssignID()
	return a
}

func TestStoreUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	end := 12
	a := &types.Artifact{
		Kind:      types.KindMethod,
		Name:      "save",
		FilePath:  "src/models.py",
		Parent:    "User",
		StartLine: 8,
		EndLine:   &end,
		Docstring: "Persist the user.",
		Code:      "def save(self):\n    ...",
	}
	a.AssignID()

	require.NoError(t, s.Upsert(ctx, []*types.Artifact{a}))

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, types.KindMethod, got.Kind)
	assert.Equal(t, "User", got.Parent)
	require.NotNil(t, got.EndLine)
	assert.Equal(t, 12, *got.EndLine)
	assert.Equal(t, "Persist the user.", got.Docstring)
	assert.Equal(t, a.Code, got.Code)
}

func TestStoreGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "00000000000000ff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeArtifact(t, types.KindFunction, "handler", "src/app.py", 10)
	require.NoError(t, s.Upsert(ctx, []*types.Artifact{a}))
	require.NoError(t, s.Upsert(ctx, []*types.Artifact{a}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreUpsertLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeArtifact(t, types.KindFunction, "handler", "src/app.py", 10)
	require.NoError(t, s.Upsert(ctx, []*types.Artifact{a}))

	updated := *a
	updated.Docstring = "Handles requests."
	require.NoError(t, s.Upsert(ctx, []*types.Artifact{&updated}))

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Handles requests.", got.Docstring)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreUpsertRejectsMissingID(t *testing.T) {
	s := newTestStore(t)

	a := &types.Artifact{
		Kind:      types.KindFunction,
		Name:      "orphan",
		FilePath:  "src/app.py",
		StartLine: 1,
		Code:      "def orphan(): pass",
	}
	err := s.Upsert(context.Background(), []*types.Artifact{a})
	assert.Error(t, err)
}

func TestStoreSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []*types.Artifact{
		makeArtifact(t, types.KindClass, "UserRepo", "src/repo.py", 1),
		makeArtifact(t, types.KindFunction, "load_user", "src/loader.py", 5),
		makeArtifact(t, types.KindFunction, "render", "src/views.py", 9),
	}))

	t.Run("matches name case-insensitively", func(t *testing.T) {
		results, err := s.Search(ctx, "USER", 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "UserRepo", results[0].Name)
		assert.Equal(t, "load_user", results[1].Name)
	})

	t.Run("matches type", func(t *testing.T) {
		results, err := s.Search(ctx, "class", 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "UserRepo", results[0].Name)
	})

	t.Run("matches file path", func(t *testing.T) {
		results, err := s.Search(ctx, "views.py", 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "render", results[0].Name)
	})

	t.Run("no matches", func(t *testing.T) {
		results, err := s.Search(ctx, "nonexistent", 0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("underscore matches literally", func(t *testing.T) {
		results, err := s.Search(ctx, "load_", 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "load_user", results[0].Name)
	})
}

func TestStoreSearchLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	artifacts := make([]*types.Artifact, 8)
	for i := range artifacts {
		artifacts[i] = makeArtifact(t, types.KindFunction, fmt.Sprintf("fn_%d", i), "src/app.py", i+1)
	}
	require.NoError(t, s.Upsert(ctx, artifacts))

	results, err := s.Search(ctx, "fn_", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultSearchLimit)

	results, err = s.Search(ctx, "fn_", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStoreListIDsByFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeArtifact(t, types.KindFunction, "one", "src/a.py", 1)
	b := makeArtifact(t, types.KindFunction, "two", "src/a.py", 5)
	c := makeArtifact(t, types.KindFunction, "three", "src/b.py", 1)
	require.NoError(t, s.Upsert(ctx, []*types.Artifact{a, b, c}))

	ids, err := s.ListIDsByFile(ctx, "src/a.py")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, ids)

	ids, err = s.ListIDsByFile(ctx, "src/missing.py")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStoreDeleteIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeArtifact(t, types.KindFunction, "one", "src/a.py", 1)
	b := makeArtifact(t, types.KindFunction, "two", "src/a.py", 5)
	require.NoError(t, s.Upsert(ctx, []*types.Artifact{a, b}))

	require.NoError(t, s.DeleteIDs(ctx, []string{a.ID, "00000000000000ff"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCountFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []*types.Artifact{
		makeArtifact(t, types.KindFunction, "one", "src/a.py", 1),
		makeArtifact(t, types.KindFunction, "two", "src/a.py", 5),
		makeArtifact(t, types.KindFunction, "three", "src/b.py", 1),
	}))

	n, err := s.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
