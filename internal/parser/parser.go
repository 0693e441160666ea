package parser

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/repoqa/repoqa/pkg/types"
)

// Parser extracts artifacts from a single source file. Implementations
// are keyed by file extension in a Registry; Python is the reference
// grammar, other languages plug in with the same Artifact shape.
type Parser interface {
	// Parse extracts artifacts from src in source order. relPath is the
	// file's path relative to the repository root and is recorded on
	// every artifact. A file that cannot be parsed returns an error and
	// produces no artifacts.
	Parse(ctx context.Context, relPath string, src []byte) (*types.ParseResult, error)

	// Language returns the grammar's language name
	Language() string
}

// Registry maps file extensions to their artifact grammar
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Parser
}

// NewRegistry creates a registry with the built-in grammars registered
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Parser)}
	r.Register(".py", NewPython())
	return r
}

// Register binds an extension (including the leading dot) to a parser,
// replacing any previous binding
func (r *Registry) Register(ext string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[strings.ToLower(ext)] = p
}

// ForFile returns the parser responsible for the given path, if any
func (r *Registry) ForFile(path string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Extensions returns the registered extensions in sorted order
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
