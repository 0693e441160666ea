package types

import (
	"crypto/sha256"
	"errors"
)

// ArtifactKind represents the kind of code artifact extracted from source
type ArtifactKind string

const (
	KindClass    ArtifactKind = "class"
	KindFunction ArtifactKind = "function"
	KindMethod   ArtifactKind = "method"
)

// Artifact is the unit of indexing: one class, function, or method
// extracted from a source file
type Artifact struct {
	// Identification
	ID   string
	Kind ArtifactKind
	Name string

	// Location
	FilePath  string // Relative to repository root
	StartLine int    // 1-based
	EndLine   *int   // Nullable - grammar may not determine the end

	// Ownership
	Parent string // Enclosing class name for methods, "" otherwise

	// Content
	Docstring string
	Code      string // Exact source text of the definition

	// Embedding vector, present once indexed
	Embedding []float32
}

// ContentHash computes the SHA-256 hash of the artifact's code text
func (a *Artifact) ContentHash() [32]byte {
	return sha256.Sum256([]byte(a.Code))
}

// Validate checks structural invariants on the artifact
func (a *Artifact) Validate() error {
	if a.Name == "" {
		return ErrMissingName
	}

	if a.FilePath == "" {
		return ErrMissingFilePath
	}

	if a.StartLine <= 0 {
		return errors.New("start line must be positive")
	}

	if a.EndLine != nil && *a.EndLine < a.StartLine {
		return errors.New("end line must not precede start line")
	}

	switch a.Kind {
	case KindClass, KindFunction, KindMethod:
	default:
		return ErrInvalidKind
	}

	// Only methods carry a parent class label
	if a.Parent != "" && a.Kind != KindMethod {
		return errors.New("parent is only valid for methods")
	}

	return nil
}

// IsIndexed reports whether an embedding has been attached
func (a *Artifact) IsIndexed() bool {
	return len(a.Embedding) > 0
}
