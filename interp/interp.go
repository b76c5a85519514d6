// Package interp is a tree-walking evaluator for the racgo expression
// sum, matching the contract the native codegen backend also implements:
// same inputs, bit-equal (modulo host floating-point determinism) outputs.
package interp

import (
	"fmt"
	"math"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/data"
	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/ir"
	"github.com/rules-as-code/racgo/schema"
)

// Context is the runtime context evaluation proceeds against: previously
// computed scalars plus, when evaluating an entity-scoped variable, the
// current row and entity name.
type Context struct {
	Data          *data.Data
	Computed      map[string]interface{} // absolute path -> scalar value
	CurrentRow    schema.Row             // entity-local fields, augmented with prior entity outputs on this row
	CurrentEntity string
}

// Run evaluates every variable in ir.Order and returns a populated
// Result. Scalars are stored once; entity-scoped variables are evaluated
// once per row, in IR order, with each row's prior entity-level outputs
// folded into that row's local scope so later entity variables can refer
// to earlier ones without a "/" path.
func Run(i *ir.IR, d *data.Data) (*data.Result, error) {
	result := data.NewResult()
	scalars := map[string]interface{}{}

	// augmented holds, per entity, the per-row local scope (original
	// fields plus previously-computed entity-level outputs for that row
	// index), keyed by row index so later entity variables can extend it.
	augmented := map[string][]schema.Row{}

	for _, path := range i.Order {
		rv := i.Variables[path]

		if rv.Entity == "" {
			ctx := &Context{Data: d, Computed: scalars}
			v, err := Eval(rv.Expr, ctx)
			if err != nil {
				return nil, err
			}
			scalars[path] = v
			result.Scalars[path] = v
			continue
		}

		rows := d.Rows(rv.Entity)
		rowScopes, ok := augmented[rv.Entity]
		if !ok {
			rowScopes = make([]schema.Row, len(rows))
			for idx, row := range rows {
				scope := make(schema.Row, len(row))
				for k, v := range row {
					scope[k] = v
				}
				rowScopes[idx] = scope
			}
			augmented[rv.Entity] = rowScopes
		}

		for idx := range rows {
			ctx := &Context{
				Data:          d,
				Computed:      scalars,
				CurrentRow:    rowScopes[idx],
				CurrentEntity: rv.Entity,
			}
			v, err := Eval(rv.Expr, ctx)
			if err != nil {
				return nil, err
			}
			rowScopes[idx][path] = v
			result.AppendEntityValue(rv.Entity, path, v)
		}
	}

	return result, nil
}

// Eval evaluates a single expression node against ctx.
func Eval(expr ast.Expr, ctx *Context) (interface{}, error) {
	switch n := expr.(type) {
	case ast.Literal:
		return n.Value, nil

	case ast.Var:
		return evalVar(n, ctx)

	case ast.BinOp:
		return evalBinOp(n, ctx)

	case ast.UnaryOp:
		return evalUnaryOp(n, ctx)

	case ast.Call:
		return evalCall(n, ctx)

	case ast.FieldAccess:
		return evalFieldAccess(n, ctx)

	case ast.Cond:
		cond, err := Eval(n.Condition, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return Eval(n.Then, ctx)
		}
		return Eval(n.Else, ctx)

	case ast.Match:
		return evalMatch(n, ctx)
	}

	return nil, fmt.Errorf("unhandled expression node %T", expr)
}

func evalVar(n ast.Var, ctx *Context) (interface{}, error) {
	if v, ok := ctx.Computed[n.Path]; ok {
		return v, nil
	}

	// Absolute entity-scoped paths land here too: prior entity-level
	// outputs are folded into the current row keyed by their full path.
	if ctx.CurrentRow != nil {
		if v, ok := ctx.CurrentRow[n.Path]; ok {
			return v, nil
		}
	}

	if ctx.CurrentEntity != "" && ctx.Data != nil {
		if rel, pk, ok := reverseRelation(ctx, n.Path); ok {
			return ctx.Data.Children(rel, pk), nil
		}
	}

	return nil, racerr.ErrUndefinedReference.New(n.Path)
}

func reverseRelation(ctx *Context, name string) (schema.Reverse, interface{}, bool) {
	ent, ok := ctx.Data.Schema().Entities[ctx.CurrentEntity]
	if !ok {
		return schema.Reverse{}, nil, false
	}
	for _, rel := range ent.Reverse {
		if rel.Name == name {
			pk := ctx.CurrentRow[ent.PrimaryKey]
			return rel, pk, true
		}
	}
	return schema.Reverse{}, nil, false
}

func evalBinOp(n ast.BinOp, ctx *Context) (interface{}, error) {
	left, err := Eval(n.Left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := Eval(n.Right, ctx)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "and":
		return truthy(left) && truthy(right), nil
	case "or":
		return truthy(left) || truthy(right), nil
	case "==":
		return looseEquals(left, right), nil
	case "!=":
		return !looseEquals(left, right), nil
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("non-numeric operand to %q", n.Op)
	}

	switch n.Op {
	case "+":
		return numericResult(left, right, lf+rf), nil
	case "-":
		return numericResult(left, right, lf-rf), nil
	case "*":
		return numericResult(left, right, lf*rf), nil
	case "/":
		if rf == 0 {
			return float64(0), nil // division by zero yields zero, never an error
		}
		return lf / rf, nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}

	return nil, fmt.Errorf("unknown binary operator %q", n.Op)
}

// numericResult keeps integer-typed results integer when both operands
// were integers, so `+`/`-`/`*` over int literals don't silently become
// floats in the output arrays.
func numericResult(left, right interface{}, f float64) interface{} {
	if isInt(left) && isInt(right) {
		return int64(f)
	}
	return f
}

func isInt(v interface{}) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	}
	return false
}

func evalUnaryOp(n ast.UnaryOp, ctx *Context) (interface{}, error) {
	v, err := Eval(n.Operand, ctx)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "-":
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("non-numeric operand to unary '-'")
		}
		return numericResult(v, v, -f), nil
	case "not":
		return !truthy(v), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.Op)
}

func evalFieldAccess(n ast.FieldAccess, ctx *Context) (interface{}, error) {
	obj, err := Eval(n.Obj, ctx)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case schema.Row:
		return v[n.Field], nil
	case []schema.Row:
		out := make([]interface{}, len(v))
		for idx, row := range v {
			out[idx] = row[n.Field]
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot access field %q on %T", n.Field, obj)
}

func evalMatch(n ast.Match, ctx *Context) (interface{}, error) {
	subject, err := Eval(n.Subject, ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range n.Cases {
		pattern, err := Eval(c.Pattern, ctx)
		if err != nil {
			return nil, err
		}
		if looseEquals(subject, pattern) {
			return Eval(c.Result, ctx)
		}
	}
	if n.Default != nil {
		return Eval(n.Default, ctx)
	}
	return nil, racerr.ErrNonExhaustiveMatch.New()
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	f, ok := asFloat(v)
	return ok && f != 0
}

func looseEquals(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func evalCall(n ast.Call, ctx *Context) (interface{}, error) {
	args := make([]interface{}, len(n.Args))
	for idx, a := range n.Args {
		v, err := Eval(a, ctx)
		if err != nil {
			return nil, err
		}
		args[idx] = v
	}

	switch n.Name {
	case "min":
		return reduceNumeric(args, func(a, b float64) float64 { return math.Min(a, b) })
	case "max":
		return reduceNumeric(args, func(a, b float64) float64 { return math.Max(a, b) })
	case "abs":
		f, err := requireFloat(args, 0)
		if err != nil {
			return nil, err
		}
		return math.Abs(f), nil
	case "round":
		f, err := requireFloat(args, 0)
		if err != nil {
			return nil, err
		}
		return math.Round(f), nil
	case "sum":
		return sumList(args)
	case "len":
		return lenOf(args)
	case "clip":
		return clip(args)
	case "any":
		return anyTruthy(args), nil
	case "all":
		return allTruthy(args), nil
	}

	return nil, racerr.ErrUnknownBuiltin.New(n.Name)
}

func reduceNumeric(args []interface{}, combine func(a, b float64) float64) (interface{}, error) {
	values, err := flattenNumeric(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return float64(0), nil
	}
	acc := values[0]
	for _, v := range values[1:] {
		acc = combine(acc, v)
	}
	return acc, nil
}

func flattenNumeric(args []interface{}) ([]float64, error) {
	var out []float64
	for _, a := range args {
		if list, ok := a.([]interface{}); ok {
			for _, v := range list {
				f, ok := asFloat(v)
				if !ok {
					return nil, fmt.Errorf("non-numeric value in argument list")
				}
				out = append(out, f)
			}
			continue
		}
		f, ok := asFloat(a)
		if !ok {
			return nil, fmt.Errorf("non-numeric argument")
		}
		out = append(out, f)
	}
	return out, nil
}

func requireFloat(args []interface{}, idx int) (float64, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("missing argument %d", idx)
	}
	f, ok := asFloat(args[idx])
	if !ok {
		return 0, fmt.Errorf("non-numeric argument %d", idx)
	}
	return f, nil
}

func sumList(args []interface{}) (interface{}, error) {
	values, err := flattenNumeric(args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total, nil
}

func lenOf(args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len expects exactly one argument")
	}
	list, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("len expects a list argument")
	}
	return int64(len(list)), nil
}

func clip(args []interface{}) (interface{}, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("clip expects exactly three arguments")
	}
	x, err := requireFloat(args, 0)
	if err != nil {
		return nil, err
	}
	lo, err := requireFloat(args, 1)
	if err != nil {
		return nil, err
	}
	hi, err := requireFloat(args, 2)
	if err != nil {
		return nil, err
	}
	return math.Max(lo, math.Min(hi, x)), nil
}

func anyTruthy(args []interface{}) bool {
	for _, a := range args {
		if list, ok := a.([]interface{}); ok {
			for _, v := range list {
				if truthy(v) {
					return true
				}
			}
			continue
		}
		if truthy(a) {
			return true
		}
	}
	return false
}

func allTruthy(args []interface{}) bool {
	all := true
	count := 0
	visit := func(v interface{}) {
		count++
		if !truthy(v) {
			all = false
		}
	}
	for _, a := range args {
		if list, ok := a.([]interface{}); ok {
			for _, v := range list {
				visit(v)
			}
			continue
		}
		visit(a)
	}
	return all && count > 0
}
