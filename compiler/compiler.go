// Package compiler resolves an ordered collection of parsed modules into a
// single dependency-ordered IR at a given compilation date: merging
// schemas, picking each variable's last-wins temporal layer, applying
// amendments, computing the dependency graph, and topologically sorting
// it.
package compiler

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/ir"
	"github.com/rules-as-code/racgo/schema"
)

const isoDate = "2006-01-02"

// Compile merges modules and resolves them into an IR as of date asOf.
// Source-ordering of modules establishes amendment precedence among
// amendments at the same date: later modules' amendments are applied
// after earlier ones, so a later module's overlapping interval wins.
func Compile(modules []*ast.Module, asOf time.Time) (*ir.IR, error) {
	log := logrus.WithFields(logrus.Fields{"as_of": asOf.Format(isoDate), "modules": len(modules)})
	log.Debug("compiling modules")

	sch, err := schema.Merge(modules)
	if err != nil {
		return nil, err
	}

	decls, err := collectVariables(modules)
	if err != nil {
		return nil, err
	}

	resolved := map[string]ir.ResolvedVar{}
	for path, v := range decls {
		expr, err := resolveTemporal(v.Values, asOf)
		if err != nil {
			return nil, racerr.ErrNoTemporalValue.New(path, asOf.Format(isoDate))
		}
		resolved[path] = ir.ResolvedVar{Path: path, Entity: v.Entity, Expr: expr}
	}

	if err := applyAmendments(modules, resolved, asOf); err != nil {
		return nil, err
	}

	for path, rv := range resolved {
		rv.Deps = dependencies(rv.Expr)
		resolved[path] = rv
	}

	order, err := topoSort(resolved)
	if err != nil {
		return nil, err
	}

	log.WithField("variables", len(resolved)).Debug("compiled IR")
	return &ir.IR{Schema: sch, Variables: resolved, Order: order}, nil
}

func collectVariables(modules []*ast.Module) (map[string]ast.Variable, error) {
	decls := map[string]ast.Variable{}
	for _, mod := range modules {
		for _, v := range mod.Variables {
			if _, dup := decls[v.Path]; dup {
				return nil, racerr.ErrDuplicateDeclaration.New(v.Path)
			}
			decls[v.Path] = v
		}
	}
	return decls, nil
}

// resolveTemporal picks the last temporal value (in declaration order)
// whose interval contains asOf.
func resolveTemporal(values []ast.TemporalValue, asOf time.Time) (ast.Expr, error) {
	var result ast.Expr
	found := false
	for _, tv := range values {
		if intervalContains(tv, asOf) {
			result = tv.Expression
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("no applicable interval")
	}
	return result, nil
}

func intervalContains(tv ast.TemporalValue, asOf time.Time) bool {
	start, err := time.Parse(isoDate, tv.Start)
	if err != nil {
		return false
	}
	if asOf.Before(start) {
		return false
	}
	if tv.End == "" {
		return true
	}
	end, err := time.Parse(isoDate, tv.End)
	if err != nil {
		return false
	}
	return asOf.Before(end)
}

// applyAmendments applies each amendment's last-wins temporal values over
// the base resolution, in source-module order. A path naming no prior
// declaration is a fatal compile error.
func applyAmendments(modules []*ast.Module, resolved map[string]ir.ResolvedVar, asOf time.Time) error {
	for _, mod := range modules {
		for _, amend := range mod.Amendments {
			base, ok := resolved[amend.Path]
			if !ok {
				return racerr.ErrUnknownAmendmentTarget.New(amend.Path)
			}
			if expr, err := resolveTemporal(amend.Values, asOf); err == nil {
				base.Expr = expr
				resolved[amend.Path] = base
			}
		}
	}
	return nil
}

// dependencies walks expr and collects the absolute ("/"-containing)
// paths referenced by Var nodes. Bare identifiers refer to entity-local
// fields or local bindings and create no graph edge.
func dependencies(expr ast.Expr) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		switch n := e.(type) {
		case ast.Literal:
		case ast.Var:
			if n.IsAbsolute() && !seen[n.Path] {
				seen[n.Path] = true
				out = append(out, n.Path)
			}
		case ast.BinOp:
			walk(n.Left)
			walk(n.Right)
		case ast.UnaryOp:
			walk(n.Operand)
		case ast.Call:
			for _, a := range n.Args {
				walk(a)
			}
		case ast.FieldAccess:
			walk(n.Obj)
		case ast.Cond:
			walk(n.Condition)
			walk(n.Then)
			walk(n.Else)
		case ast.Match:
			walk(n.Subject)
			for _, c := range n.Cases {
				walk(c.Pattern)
				walk(c.Result)
			}
			if n.Default != nil {
				walk(n.Default)
			}
		}
	}
	walk(expr)
	sort.Strings(out) // stable order feeds the IR's structural hash
	return out
}

// topoSort depth-first visits the dependency graph with a temp (on-stack)
// set and a visited set, emitting in post-order. A node re-entered while
// still in temp is a circular dependency.
func topoSort(vars map[string]ir.ResolvedVar) ([]string, error) {
	visited := map[string]bool{}
	temp := map[string]bool{}
	var order []string

	paths := make([]string, 0, len(vars))
	for p := range vars {
		paths = append(paths, p)
	}
	sort.Strings(paths) // deterministic iteration for a deterministic order among independent subgraphs

	var visit func(path string) error
	visit = func(path string) error {
		if visited[path] {
			return nil
		}
		if temp[path] {
			return racerr.ErrCircularDependency.New(path)
		}
		rv, ok := vars[path]
		if !ok {
			return nil // missing dependency: resolved at evaluation time, not fatal here
		}
		temp[path] = true
		for _, dep := range rv.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		temp[path] = false
		visited[path] = true
		order = append(order, path)
		return nil
	}

	for _, path := range paths {
		if err := visit(path); err != nil {
			return nil, err
		}
	}
	return order, nil
}
