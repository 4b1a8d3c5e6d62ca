// Package jsinject turns callable descriptions into remote-executable
// JavaScript declarations and expands expression templates with literal
// parameter substitution. Translation is kept separate from execution so the
// generated source is independently testable.
package jsinject

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Function describes one callable to declare in the remote page: a name, a
// parameter list, and a body of JavaScript statements.
type Function struct {
	Name   string
	Params []string
	Body   string
}

// Declaration renders the function as a top-level declaration. Re-declaring
// the same name later simply overwrites it remotely; the host keeps no record
// of what is installed.
func (f Function) Declaration() string {
	return fmt.Sprintf("function %s(%s) {\n%s\n}", f.Name, strings.Join(f.Params, ", "), f.Body)
}

// Expr renders the function as a parenthesized function expression, suitable
// for immediate invocation or argument forwarding.
func (f Function) Expr() string {
	return fmt.Sprintf("(function (%s) {\n%s\n})", strings.Join(f.Params, ", "), f.Body)
}

// Collection is a named set of callables. Each entry becomes one top-level
// declaration under the entry's name, forwarding all call arguments to the
// described callable.
type Collection map[string]Function

// Declarations expands the collection in deterministic (sorted) name order.
func (c Collection) Declarations() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	decls := make([]string, 0, len(names))
	for _, name := range names {
		fn := c[name]
		decls = append(decls, fmt.Sprintf(
			"function %s() { return %s.apply(null, arguments); }", name, fn.Expr()))
	}
	return decls
}

// Literal JSON-encodes a value for safe embedding into generated JavaScript.
// The encoder escapes quotes and HTML-significant characters, so no value can
// terminate the surrounding string or expression.
func Literal(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Marshal only fails on unsupported types; an empty string literal is
		// the safe degenerate output.
		return `""`
	}
	return string(b)
}

// ExpandTemplate substitutes every {{name}} placeholder in tmpl with the
// JSON-encoded literal of params[name], in one left-to-right scan over the
// template. Substituted output is never rescanned, so a value containing
// placeholder syntax stays an inert literal. Placeholders without a parameter
// are an error rather than silently passing through into remote code, and so
// are parameters the template never references.
func ExpandTemplate(tmpl string, params map[string]interface{}) (string, error) {
	var out strings.Builder
	used := make(map[string]bool, len(params))

	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			out.WriteString(rest)
			break
		}
		name := rest[start+2 : start+end]
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("template placeholder {{%s}} left unbound", name)
		}
		out.WriteString(rest[:start])
		out.WriteString(Literal(value))
		used[name] = true
		rest = rest[start+end+2:]
	}

	for name := range params {
		if !used[name] {
			return "", fmt.Errorf("template has no placeholder %q", "{{"+name+"}}")
		}
	}
	return out.String(), nil
}

// Runner submits one piece of source for execution in the page context.
type Runner func(ctx context.Context, source string) error

// Injector installs declarations into the remote page.
type Injector struct {
	run    Runner
	logger *zap.Logger
}

// New builds an Injector that submits source through run.
func New(run Runner, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{run: run, logger: logger}
}

// Install submits each declaration in order, awaiting each submission before
// issuing the next, so later declarations may assume earlier ones exist.
func (i *Injector) Install(ctx context.Context, decls ...string) error {
	for idx, decl := range decls {
		if err := i.run(ctx, decl); err != nil {
			return fmt.Errorf("failed to install declaration %d of %d: %w", idx+1, len(decls), err)
		}
		i.logger.Debug("Installed declaration.", zap.Int("index", idx), zap.Int("bytes", len(decl)))
	}
	return nil
}

// InstallFunctions declares each function in order.
func (i *Injector) InstallFunctions(ctx context.Context, fns ...Function) error {
	decls := make([]string, 0, len(fns))
	for _, fn := range fns {
		decls = append(decls, fn.Declaration())
	}
	return i.Install(ctx, decls...)
}

// InstallCollection declares every entry of a named collection.
func (i *Injector) InstallCollection(ctx context.Context, c Collection) error {
	return i.Install(ctx, c.Declarations()...)
}
