package parser

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoqa/repoqa/pkg/types"
)

func parsePython(t *testing.T, src string) *types.ParseResult {
	t.Helper()
	p := NewPython()
	result, err := p.Parse(context.Background(), "m.py", []byte(src))
	require.NoError(t, err)
	return result
}

func byName(artifacts []types.Artifact, name string) *types.Artifact {
	for i := range artifacts {
		if artifacts[i].Name == name {
			return &artifacts[i]
		}
	}
	return nil
}

func TestParse_ClassMethodFunction(t *testing.T) {
	src := `class A:
    def foo(self):
        pass

def bar():
    pass
`
	result := parsePython(t, src)
	require.Len(t, result.Artifacts, 3)

	a := byName(result.Artifacts, "A")
	require.NotNil(t, a)
	assert.Equal(t, types.KindClass, a.Kind)
	assert.Empty(t, a.Parent)
	assert.Equal(t, 1, a.StartLine)

	foo := byName(result.Artifacts, "foo")
	require.NotNil(t, foo)
	assert.Equal(t, types.KindMethod, foo.Kind)
	assert.Equal(t, "A", foo.Parent)
	assert.Equal(t, 2, foo.StartLine)

	bar := byName(result.Artifacts, "bar")
	require.NotNil(t, bar)
	assert.Equal(t, types.KindFunction, bar.Kind)
	assert.Empty(t, bar.Parent)
}

func TestParse_SourceOrder(t *testing.T) {
	src := `def first():
    pass

class Second:
    def third(self):
        pass

def fourth():
    pass
`
	result := parsePython(t, src)
	require.Len(t, result.Artifacts, 4)

	names := make([]string, len(result.Artifacts))
	for i, a := range result.Artifacts {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"first", "Second", "third", "fourth"}, names)
}

func TestParse_Docstrings(t *testing.T) {
	src := `class Worker:
    """Processes jobs."""

    def run(self):
        '''Run the worker loop.'''
        pass

def helper():
    pass
`
	result := parsePython(t, src)

	worker := byName(result.Artifacts, "Worker")
	require.NotNil(t, worker)
	assert.Equal(t, "Processes jobs.", worker.Docstring)

	run := byName(result.Artifacts, "run")
	require.NotNil(t, run)
	assert.Equal(t, "Run the worker loop.", run.Docstring)

	helper := byName(result.Artifacts, "helper")
	require.NotNil(t, helper)
	assert.Empty(t, helper.Docstring)
}

func TestParse_CodeIsExactSourceText(t *testing.T) {
	src := "def bar():\n    return 42\n"
	result := parsePython(t, src)

	bar := byName(result.Artifacts, "bar")
	require.NotNil(t, bar)
	assert.Equal(t, "def bar():\n    return 42", bar.Code)
}

func TestParse_NestedFunctionInsideMethod(t *testing.T) {
	// Nested declarations are captured; attribution is to the nearest
	// enclosing class, never the enclosing function.
	src := `class A:
    def outer(self):
        def inner():
            pass
`
	result := parsePython(t, src)
	require.Len(t, result.Artifacts, 3)

	inner := byName(result.Artifacts, "inner")
	require.NotNil(t, inner)
	assert.Equal(t, types.KindMethod, inner.Kind)
	assert.Equal(t, "A", inner.Parent)
}

func TestParse_NestedClassCollapsesToNearest(t *testing.T) {
	src := `class Outer:
    class Inner:
        def m(self):
            pass

    def n(self):
        pass
`
	result := parsePython(t, src)

	inner := byName(result.Artifacts, "Inner")
	require.NotNil(t, inner)
	assert.Equal(t, types.KindClass, inner.Kind)
	assert.Empty(t, inner.Parent)

	m := byName(result.Artifacts, "m")
	require.NotNil(t, m)
	assert.Equal(t, "Inner", m.Parent)

	n := byName(result.Artifacts, "n")
	require.NotNil(t, n)
	assert.Equal(t, "Outer", n.Parent)
}

func TestParse_FunctionAfterClassIsNotMethod(t *testing.T) {
	// The class stack must pop when the class body ends
	src := `class A:
    def foo(self):
        pass

def standalone():
    pass
`
	result := parsePython(t, src)

	standalone := byName(result.Artifacts, "standalone")
	require.NotNil(t, standalone)
	assert.Equal(t, types.KindFunction, standalone.Kind)
	assert.Empty(t, standalone.Parent)
}

func TestParse_DecoratedDefinitions(t *testing.T) {
	src := `@register
class Handler:
    @property
    def name(self):
        return self._name
`
	result := parsePython(t, src)

	handler := byName(result.Artifacts, "Handler")
	require.NotNil(t, handler)
	assert.Equal(t, types.KindClass, handler.Kind)

	name := byName(result.Artifacts, "name")
	require.NotNil(t, name)
	assert.Equal(t, types.KindMethod, name.Kind)
	assert.Equal(t, "Handler", name.Parent)
}

func TestParse_SyntaxError(t *testing.T) {
	p := NewPython()
	_, err := p.Parse(context.Background(), "broken.py", []byte("def broken(:\n"))
	assert.Error(t, err)
}

func TestParse_InvalidEncoding(t *testing.T) {
	p := NewPython()
	_, err := p.Parse(context.Background(), "bad.py", []byte{0xff, 0xfe, 0xfd})
	assert.Error(t, err)
}

func TestParse_EmptyFile(t *testing.T) {
	result := parsePython(t, "")
	assert.Empty(t, result.Artifacts)
}

func TestParse_SpansAreOneBased(t *testing.T) {
	src := `def a():
    pass


def b():
    x = 1
    return x
`
	result := parsePython(t, src)

	b := byName(result.Artifacts, "b")
	require.NotNil(t, b)
	assert.Equal(t, 5, b.StartLine)
	require.NotNil(t, b.EndLine)
	assert.Equal(t, 7, *b.EndLine)
}

func TestParse_SharedInstanceConcurrent(t *testing.T) {
	// One Python instance is shared through the registry and driven by
	// the indexer's worker pool, so parallel Parse calls must be safe.
	p := NewPython()
	src := []byte(`class A:
    def foo(self):
        """Doc."""
        return 1

def bar():
    pass
`)

	const goroutines = 8
	const iterations = 25

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				result, err := p.Parse(context.Background(), "m.py", src)
				if err != nil {
					errs <- err
					return
				}
				if len(result.Artifacts) != 3 {
					errs <- fmt.Errorf("got %d artifacts, want 3", len(result.Artifacts))
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestRegistry_ForFile(t *testing.T) {
	r := NewRegistry()

	p, ok := r.ForFile("pkg/module.py")
	require.True(t, ok)
	assert.Equal(t, "python", p.Language())

	_, ok = r.ForFile("main.rs")
	assert.False(t, ok)
}

func TestRegistry_CaseInsensitiveExtension(t *testing.T) {
	r := NewRegistry()
	_, ok := r.ForFile("SCRIPT.PY")
	assert.True(t, ok)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(".py", NewPython())
	assert.Equal(t, []string{".py"}, r.Extensions())
}
