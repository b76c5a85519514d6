// Package ir defines the compiled intermediate representation the
// compiler produces and the interpreter/codegen backends consume: a
// date-resolved, dependency-ordered set of variables plus the merged
// schema they run against.
package ir

import (
	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/schema"
)

// ResolvedVar is one variable's single effective expression at the
// compilation date, plus the set of absolute paths it depends on.
type ResolvedVar struct {
	Path   string
	Entity string // "" if scalar
	Expr   ast.Expr
	Deps   []string // absolute paths referenced by Var nodes within Expr
}

// IR is the immutable, topologically ordered compilation result.
type IR struct {
	Schema    *schema.Schema
	Variables map[string]ResolvedVar
	Order     []string // topological order, dependencies first
}

// EntityVars returns the ordered subset of Order bound to entity, in IR
// order. Used by both evaluation backends to walk per-row computations in
// the same sequence.
func (i *IR) EntityVars(entity string) []string {
	var out []string
	for _, path := range i.Order {
		if rv := i.Variables[path]; rv.Entity == entity {
			out = append(out, path)
		}
	}
	return out
}

// ScalarVars returns the ordered subset of Order with no entity binding.
func (i *IR) ScalarVars() []string {
	var out []string
	for _, path := range i.Order {
		if rv := i.Variables[path]; rv.Entity == "" {
			out = append(out, path)
		}
	}
	return out
}
