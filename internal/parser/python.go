package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/repoqa/repoqa/pkg/types"
)

// Python extracts class, function, and method artifacts from Python
// source files using tree-sitter
type Python struct {
	lang *sitter.Language
}

// NewPython creates the Python artifact grammar
func NewPython() *Python {
	return &Python{lang: python.GetLanguage()}
}

// Language returns the grammar's language name
func (p *Python) Language() string {
	return "python"
}

// Parse extracts artifacts from a Python source file. The walk covers
// the full tree, so declarations nested inside function bodies are
// captured too; methods are attributed to the nearest enclosing class.
func (p *Python) Parse(ctx context.Context, relPath string, src []byte) (*types.ParseResult, error) {
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("%s: invalid UTF-8 encoding", relPath)
	}

	// A tree-sitter parser holds mutable C state and must not be
	// shared across goroutines; each call gets its own.
	parser := sitter.NewParser()
	parser.SetLanguage(p.lang)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", relPath, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("%s: %w", relPath, errSyntax)
	}

	w := &pyWalker{src: src, relPath: relPath}
	w.walk(root)

	return &types.ParseResult{
		Artifacts: w.artifacts,
		FilePath:  relPath,
		Language:  "python",
	}, nil
}

var errSyntax = errors.New("syntax error")

// pyWalker accumulates artifacts during a depth-first walk of the tree.
// classStack tracks the enclosing class names; only the top of the
// stack matters for method attribution, deeper nesting collapses to
// the nearest enclosing class.
type pyWalker struct {
	src       []byte
	relPath   string
	classStack []string
	artifacts []types.Artifact
}

func (w *pyWalker) walk(node *sitter.Node) {
	switch node.Type() {
	case "class_definition":
		name := w.fieldText(node, "name")
		if name == "" {
			return
		}
		w.emit(types.KindClass, name, "", node)

		w.classStack = append(w.classStack, name)
		w.walkChildren(node)
		w.classStack = w.classStack[:len(w.classStack)-1]
		return

	case "function_definition":
		name := w.fieldText(node, "name")
		if name == "" {
			return
		}
		kind, parent := types.KindFunction, ""
		if len(w.classStack) > 0 {
			kind = types.KindMethod
			parent = w.classStack[len(w.classStack)-1]
		}
		w.emit(kind, name, parent, node)
		// Fall through to the body: nested declarations are captured
	}

	w.walkChildren(node)
}

func (w *pyWalker) walkChildren(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i))
	}
}

func (w *pyWalker) emit(kind types.ArtifactKind, name, parent string, node *sitter.Node) {
	end := int(node.EndPoint().Row) + 1
	w.artifacts = append(w.artifacts, types.Artifact{
		Kind:      kind,
		Name:      name,
		FilePath:  w.relPath,
		Parent:    parent,
		Docstring: w.docstring(node),
		Code:      string(w.src[node.StartByte():node.EndByte()]),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   &end,
	})
}

// fieldText returns the source text of a named field on the node
func (w *pyWalker) fieldText(node *sitter.Node, field string) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return string(w.src[child.StartByte():child.EndByte()])
}

// docstring extracts the leading documentation string of a definition
// body, or "" if absent
func (w *pyWalker) docstring(node *sitter.Node) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}

	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}

	expr := first.NamedChild(0)
	if expr.Type() != "string" {
		return ""
	}

	return stripQuotes(string(w.src[expr.StartByte():expr.EndByte()]))
}

// stripQuotes removes triple or single quoting from a Python string
// literal and trims surrounding whitespace
func stripQuotes(raw string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			raw = strings.TrimPrefix(raw, q)
			raw = strings.TrimSuffix(raw, q)
			break
		}
	}
	return strings.TrimSpace(raw)
}
