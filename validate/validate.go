// Package validate runs structural, reference, and literal-convention
// checks over parsed modules before compilation. It reports findings
// rather than failing fast, so an authoring tool can surface every
// problem in a source set at once.
package validate

import (
	"fmt"
	"sort"
	"time"

	"github.com/rules-as-code/racgo/ast"
)

// Severity ranks a finding.
type Severity int

const (
	// Error findings will fail compilation or evaluation.
	Error Severity = iota
	// Warning findings are conventions worth fixing but not fatal.
	Warning
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Finding is one validation result.
type Finding struct {
	Severity Severity
	Code     string
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s [%s] %s", f.Severity, f.Code, f.Message)
}

// Modules checks mods and returns every finding, errors first within
// each check but otherwise in source order.
func Modules(mods []*ast.Module) []Finding {
	var out []Finding
	for _, check := range []func([]*ast.Module) []Finding{structural, references, literals} {
		found := check(mods)
		sort.SliceStable(found, func(a, b int) bool { return found[a].Severity < found[b].Severity })
		out = append(out, found...)
	}
	return out
}

// structural checks declaration shape: duplicate fields within an
// entity, duplicate variable paths across the module set, and temporal
// intervals that end on or before their start date.
func structural(mods []*ast.Module) []Finding {
	var out []Finding

	declared := map[string]bool{}
	for _, mod := range mods {
		for _, e := range mod.Entities {
			seen := map[string]bool{}
			for _, f := range e.Fields {
				if seen[f.Name] {
					out = append(out, Finding{Error, "dup-field", fmt.Sprintf("entity %q declares field %q twice", e.Name, f.Name)})
				}
				seen[f.Name] = true
			}
			for _, fk := range e.ForeignKeys {
				if seen[fk.Field] {
					out = append(out, Finding{Error, "dup-field", fmt.Sprintf("entity %q declares field %q twice", e.Name, fk.Field)})
				}
				seen[fk.Field] = true
			}
		}
		for _, v := range mod.Variables {
			if declared[v.Path] {
				out = append(out, Finding{Error, "dup-variable", fmt.Sprintf("variable %q declared twice", v.Path)})
			}
			declared[v.Path] = true
			out = append(out, checkIntervals(v.Path, v.Values)...)
		}
		for _, a := range mod.Amendments {
			out = append(out, checkIntervals(a.Path, a.Values)...)
		}
	}
	return out
}

func checkIntervals(path string, values []ast.TemporalValue) []Finding {
	var out []Finding
	for _, tv := range values {
		if tv.End == "" {
			continue
		}
		start, err1 := time.Parse("2006-01-02", tv.Start)
		end, err2 := time.Parse("2006-01-02", tv.End)
		if err1 != nil || err2 != nil {
			continue // reported by the literal checks
		}
		if !end.After(start) {
			out = append(out, Finding{Error, "empty-interval", fmt.Sprintf("variable %q: interval %s to %s is empty", path, tv.Start, tv.End)})
		}
	}
	return out
}

// references checks that amendments target declared variables, foreign
// keys and entity bindings name declared entities, and cross-variable
// paths resolve to declarations. An unresolved path is a warning, not an
// error: evaluation may still satisfy it from the current row.
func references(mods []*ast.Module) []Finding {
	var out []Finding

	entities := map[string]bool{}
	variables := map[string]bool{}
	for _, mod := range mods {
		for _, e := range mod.Entities {
			entities[e.Name] = true
		}
		for _, v := range mod.Variables {
			variables[v.Path] = true
		}
	}

	for _, mod := range mods {
		for _, e := range mod.Entities {
			for _, fk := range e.ForeignKeys {
				if !entities[fk.Target] {
					out = append(out, Finding{Error, "unknown-entity", fmt.Sprintf("entity %q foreign key %q targets undeclared entity %q", e.Name, fk.Field, fk.Target)})
				}
			}
			for _, rel := range e.OneToMany {
				if !entities[rel.Target] {
					out = append(out, Finding{Error, "unknown-entity", fmt.Sprintf("entity %q relation %q targets undeclared entity %q", e.Name, rel.Name, rel.Target)})
				}
			}
		}
		for _, v := range mod.Variables {
			if v.Entity != "" && !entities[v.Entity] {
				out = append(out, Finding{Error, "unknown-entity", fmt.Sprintf("variable %q is bound to undeclared entity %q", v.Path, v.Entity)})
			}
			for _, tv := range v.Values {
				out = append(out, checkPaths(v.Path, tv.Expression, variables)...)
			}
		}
		for _, a := range mod.Amendments {
			if !variables[a.Path] {
				out = append(out, Finding{Error, "unknown-amendment-target", fmt.Sprintf("amendment targets undeclared variable %q", a.Path)})
			}
			for _, tv := range a.Values {
				out = append(out, checkPaths(a.Path, tv.Expression, variables)...)
			}
		}
	}
	return out
}

func checkPaths(owner string, expr ast.Expr, variables map[string]bool) []Finding {
	var out []Finding
	walkVars(expr, func(v ast.Var) {
		if v.IsAbsolute() && !variables[v.Path] {
			out = append(out, Finding{Warning, "unresolved-path", fmt.Sprintf("variable %q references undeclared path %q", owner, v.Path)})
		}
	})
	return out
}

func walkVars(e ast.Expr, visit func(ast.Var)) {
	switch n := e.(type) {
	case ast.Var:
		visit(n)
	case ast.BinOp:
		walkVars(n.Left, visit)
		walkVars(n.Right, visit)
	case ast.UnaryOp:
		walkVars(n.Operand, visit)
	case ast.Call:
		for _, a := range n.Args {
			walkVars(a, visit)
		}
	case ast.FieldAccess:
		walkVars(n.Obj, visit)
	case ast.Cond:
		walkVars(n.Condition, visit)
		walkVars(n.Then, visit)
		walkVars(n.Else, visit)
	case ast.Match:
		walkVars(n.Subject, visit)
		for _, c := range n.Cases {
			walkVars(c.Pattern, visit)
			walkVars(c.Result, visit)
		}
		if n.Default != nil {
			walkVars(n.Default, visit)
		}
	}
}

// literals checks literal conventions: dates must be real calendar
// dates, and path segments stick to lower_snake_case.
func literals(mods []*ast.Module) []Finding {
	var out []Finding
	for _, mod := range mods {
		for _, v := range mod.Variables {
			out = append(out, checkDates(v.Path, v.Values)...)
			out = append(out, checkPathCase(v.Path)...)
		}
		for _, a := range mod.Amendments {
			out = append(out, checkDates(a.Path, a.Values)...)
		}
	}
	return out
}

func checkDates(path string, values []ast.TemporalValue) []Finding {
	var out []Finding
	for _, tv := range values {
		for _, d := range []string{tv.Start, tv.End} {
			if d == "" {
				continue
			}
			if _, err := time.Parse("2006-01-02", d); err != nil {
				out = append(out, Finding{Error, "bad-date", fmt.Sprintf("variable %q: %q is not a valid date", path, d)})
			}
		}
	}
	return out
}

func checkPathCase(path string) []Finding {
	for _, r := range path {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '/' {
			continue
		}
		return []Finding{{Warning, "path-case", fmt.Sprintf("path %q is not lower_snake_case", path)}}
	}
	return nil
}
