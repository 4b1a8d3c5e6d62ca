package jsinject_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/pkg/jsinject"
)

func TestFunction_Declaration(t *testing.T) {
	fn := jsinject.Function{
		Name:   "greet",
		Params: []string{"name", "punct"},
		Body:   `return "hello " + name + punct;`,
	}

	decl := fn.Declaration()
	assert.Equal(t, "function greet(name, punct) {\nreturn \"hello \" + name + punct;\n}", decl)
}

func TestCollection_DeclarationsAreSortedAndForwardArguments(t *testing.T) {
	c := jsinject.Collection{
		"zeta":  {Params: []string{"x"}, Body: "return x;"},
		"alpha": {Params: []string{"a", "b"}, Body: "return a + b;"},
	}

	decls := c.Declarations()
	require.Len(t, decls, 2)

	// Deterministic order: sorted by entry name.
	assert.Contains(t, decls[0], "function alpha()")
	assert.Contains(t, decls[1], "function zeta()")

	// Each wrapper forwards every call argument to the described callable.
	assert.Contains(t, decls[0], ".apply(null, arguments)")
	assert.Contains(t, decls[0], "return a + b;")
}

func TestLiteral_EscapesQuotes(t *testing.T) {
	lit := jsinject.Literal(`a"b`)
	assert.Equal(t, `"a\"b"`, lit)
}

func TestExpandTemplate_SubstitutesLiterals(t *testing.T) {
	out, err := jsinject.ExpandTemplate(
		`document.querySelector({{selector}}) !== null`,
		map[string]interface{}{"selector": `input[name="q"]`},
	)
	require.NoError(t, err)

	// The double quote in the selector must not terminate the generated
	// string literal; the expression still queries for the original text.
	assert.Equal(t, `document.querySelector("input[name=\"q\"]") !== null`, out)
}

func TestExpandTemplate_NonStringValues(t *testing.T) {
	out, err := jsinject.ExpandTemplate(
		`setViewport({{width}}, {{mobile}})`,
		map[string]interface{}{"width": 375, "mobile": true},
	)
	require.NoError(t, err)
	assert.Equal(t, `setViewport(375, true)`, out)
}

func TestExpandTemplate_ValueContainingPlaceholderStaysInert(t *testing.T) {
	out, err := jsinject.ExpandTemplate(
		`f({{a}}, {{b}})`,
		map[string]interface{}{
			"a": `{{b}}`,
			"b": `");doEvil();("`,
		},
	)
	require.NoError(t, err)

	// Substituted output is never rescanned: a's value keeps its placeholder
	// syntax as an inert literal, and b's value stays inside its own literal.
	assert.Equal(t, `f("{{b}}", "\");doEvil();(\"")`, out)
}

func TestExpandTemplate_MissingPlaceholder(t *testing.T) {
	_, err := jsinject.ExpandTemplate(`x`, map[string]interface{}{"sel": "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no placeholder")
}

func TestExpandTemplate_UnboundPlaceholder(t *testing.T) {
	_, err := jsinject.ExpandTemplate(`f({{a}}, {{b}})`, map[string]interface{}{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left unbound")
}

func TestInjector_InstallsInOrder(t *testing.T) {
	var ran []string
	inj := jsinject.New(func(ctx context.Context, source string) error {
		ran = append(ran, source)
		return nil
	}, zap.NewNop())

	err := inj.Install(context.Background(), "first();", "second();", "third();")
	require.NoError(t, err)
	assert.Equal(t, []string{"first();", "second();", "third();"}, ran)
}

func TestInjector_StopsOnFirstFailure(t *testing.T) {
	var ran []string
	inj := jsinject.New(func(ctx context.Context, source string) error {
		ran = append(ran, source)
		if len(ran) == 2 {
			return fmt.Errorf("evaluation rejected")
		}
		return nil
	}, zap.NewNop())

	err := inj.Install(context.Background(), "a", "b", "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declaration 2 of 3")
	// Later declarations may assume earlier ones exist, so nothing after the
	// failing one is submitted.
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestInjector_InstallFunctions(t *testing.T) {
	var ran []string
	inj := jsinject.New(func(ctx context.Context, source string) error {
		ran = append(ran, source)
		return nil
	}, zap.NewNop())

	err := inj.InstallFunctions(context.Background(), jsinject.Function{Name: "f", Body: "return 1;"})
	require.NoError(t, err)
	require.Len(t, ran, 1)
	assert.Contains(t, ran[0], "function f()")
}
