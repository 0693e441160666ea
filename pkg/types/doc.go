// Package types provides shared type definitions for the RepoQA server.
//
// This package defines the domain types used across the indexing and
// retrieval pipeline: artifacts, parse results, and artifact identity.
//
// # Artifacts
//
// Artifact is the unit of indexing. One artifact is produced per class,
// function, or method declaration found in a source file:
//
//	artifact := types.Artifact{
//	    Kind:      types.KindMethod,
//	    Name:      "process",
//	    FilePath:  "app/worker.py",
//	    Parent:    "Worker",
//	    StartLine: 42,
//	    Code:      sourceText,
//	}
//
// # Identity
//
// Every artifact gets a deterministic id derived from its file path,
// name, start line, and a content hash of its code text:
//
//	artifact.AssignID()
//
// The id is stable across runs for unchanged content and changes
// whenever the code text changes, which makes upsert-by-id naturally
// replace stale entries. Ids never come from a process-randomized hash.
package types
