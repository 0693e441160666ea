// Package parser extracts code artifacts from source files.
//
// A Parser implements one language grammar and produces Artifact
// records for every class, function, and method declaration in a file,
// in source order. Parsers are selected through a Registry keyed by
// file extension:
//
//	registry := parser.NewRegistry()
//	p, ok := registry.ForFile("app/models.py")
//	result, err := p.Parse(ctx, "app/models.py", src)
//
// Python is the reference grammar, built on tree-sitter. Additional
// languages register their own Parser with the same Artifact shape:
//
//	registry.Register(".java", javaGrammar)
//
// # Attribution Rules
//
// The walk covers the full syntax tree, not just top-level scope. A
// function declaration is a method when at least one class encloses
// it, attributed to the nearest enclosing class; enclosing functions
// are not tracked. Classes always have an empty parent.
//
// # Failure Policy
//
// A file that fails to parse (syntax error, bad encoding) yields an
// error and no artifacts. Callers log and skip the file; extraction of
// other files continues.
package parser
