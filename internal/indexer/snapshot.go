package indexer

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/repoqa/repoqa/pkg/types"
)

// snapshotRow is the flat Parquet record for one indexed artifact
type snapshotRow struct {
	ID        string    `parquet:"id"`
	Type      string    `parquet:"type"`
	Name      string    `parquet:"name"`
	FilePath  string    `parquet:"file_path"`
	Parent    string    `parquet:"parent,optional"`
	StartLine int32     `parquet:"start_line"`
	EndLine   *int32    `parquet:"end_line,optional"`
	Docstring string    `parquet:"docstring,optional"`
	Code      string    `parquet:"code"`
	Embedding []float32 `parquet:"embedding,list"`
}

// WriteSnapshot writes the artifacts of an index run, embeddings
// included, to a Parquet file at path. The snapshot is a portable export
// of what the run indexed; it is not read back by the pipeline itself.
func WriteSnapshot(path string, artifacts []*types.Artifact) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	rows := make([]snapshotRow, len(artifacts))
	for i, a := range artifacts {
		rows[i] = snapshotRow{
			ID:        a.ID,
			Type:      string(a.Kind),
			Name:      a.Name,
			FilePath:  a.FilePath,
			Parent:    a.Parent,
			StartLine: int32(a.StartLine),
			Docstring: a.Docstring,
			Code:      a.Code,
			Embedding: a.Embedding,
		}
		if a.EndLine != nil {
			end := int32(*a.EndLine)
			rows[i].EndLine = &end
		}
	}

	w := parquet.NewGenericWriter[snapshotRow](f)
	if _, err := w.Write(rows); err != nil {
		_ = w.Close()
		_ = f.Close()
		return fmt.Errorf("failed to write snapshot rows: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return f.Close()
}

// ReadSnapshot loads the artifacts recorded in a Parquet snapshot
func ReadSnapshot(path string) ([]*types.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	rows, err := parquet.Read[snapshotRow](f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}

	artifacts := make([]*types.Artifact, len(rows))
	for i, r := range rows {
		a := &types.Artifact{
			ID:        r.ID,
			Kind:      types.ArtifactKind(r.Type),
			Name:      r.Name,
			FilePath:  r.FilePath,
			Parent:    r.Parent,
			StartLine: int(r.StartLine),
			Docstring: r.Docstring,
			Code:      r.Code,
			Embedding: r.Embedding,
		}
		if r.EndLine != nil {
			end := int(*r.EndLine)
			a.EndLine = &end
		}
		artifacts[i] = a
	}
	return artifacts, nil
}
