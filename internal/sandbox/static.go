package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// StaticViolation is one import found to be disallowed before the script
// ever runs.
type StaticViolation struct {
	Module string
	Detail string
}

// requireCallPattern is the textual fallback for require(...) and
// __import__-style dynamic references the AST walk below doesn't reach
// (template strings, computed member access, code the walker doesn't cover).
// It mirrors the original's approach of checking __import__("name") calls in
// addition to static `import` statements.
var requireCallPattern = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)

// ScanSource parses source as an ECMAScript program and reports every
// require(...) reference to a module blocked by cfg, before the script is
// ever executed. This is the static counterpart to CheckImport: it catches
// modules a custom tool references but that dynamic enforcement would never
// see if the module were already resolved/cached by the time the script
// runs inside the runtime.
func ScanSource(filename, source string, cfg Config) ([]StaticViolation, error) {
	program, err := parser.ParseFile(nil, filename, source, 0)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	modules := map[string]bool{}
	for _, stmt := range program.Body {
		collectRequireModules(stmt, modules)
	}
	// Fallback textual scan catches requires the walker's statement coverage
	// misses (nested in expressions the walk doesn't descend into).
	for _, m := range requireCallPattern.FindAllStringSubmatch(source, -1) {
		modules[m[1]] = true
	}

	var violations []StaticViolation
	for mod := range modules {
		base := mod
		if i := strings.IndexByte(mod, '/'); i >= 0 {
			base = mod[:i]
		}
		if alwaysBlockedModules[base] {
			violations = append(violations, StaticViolation{Module: mod, Detail: "always blocked in sandbox"})
			continue
		}
		for _, blocked := range cfg.BlockedCustomModules {
			if base == blocked {
				violations = append(violations, StaticViolation{Module: mod, Detail: "blocked module"})
				break
			}
		}
	}
	return violations, nil
}

// collectRequireModules walks the small subset of the expression grammar
// that can contain a require(...) call as a direct subexpression: bare
// expression statements and variable initializers. It is intentionally not
// an exhaustive AST visitor — ScanSource's regex fallback covers call sites
// nested deeper than this walk goes.
func collectRequireModules(stmt ast.Statement, out map[string]bool) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		collectFromExpr(s.Expression, out)
	case *ast.VariableStatement:
		for _, b := range s.List {
			if b != nil {
				collectFromExpr(b.Initializer, out)
			}
		}
	case *ast.BlockStatement:
		for _, inner := range s.List {
			collectRequireModules(inner, out)
		}
	case *ast.IfStatement:
		collectRequireModules(s.Consequent, out)
		if s.Alternate != nil {
			collectRequireModules(s.Alternate, out)
		}
	case *ast.ReturnStatement:
		collectFromExpr(s.Argument, out)
	}
}

func collectFromExpr(expr ast.Expression, out map[string]bool) {
	call, ok := expr.(*ast.CallExpression)
	if !ok || call == nil {
		return
	}
	ident, ok := call.Callee.(*ast.Identifier)
	if !ok || string(ident.Name) != "require" || len(call.ArgumentList) == 0 {
		return
	}
	lit, ok := call.ArgumentList[0].(*ast.StringLiteral)
	if !ok {
		return
	}
	out[string(lit.Value)] = true
}
