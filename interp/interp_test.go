package interp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/compiler"
	"github.com/rules-as-code/racgo/data"
	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/ir"
	"github.com/rules-as-code/racgo/parser"
	"github.com/rules-as-code/racgo/schema"
)

func compile(t *testing.T, asOf string, sources ...string) *ir.IR {
	t.Helper()
	modules := make([]*ast.Module, 0, len(sources))
	for _, src := range sources {
		mod, err := parser.Parse(src)
		require.NoError(t, err)
		modules = append(modules, mod)
	}
	d, err := time.Parse("2006-01-02", asOf)
	require.NoError(t, err)
	compiled, err := compiler.Compile(modules, d)
	require.NoError(t, err)
	return compiled
}

func run(t *testing.T, i *ir.IR, rows map[string][]schema.Row) *data.Result {
	t.Helper()
	d, err := data.New(i.Schema, rows)
	require.NoError(t, err)
	res, err := Run(i, d)
	require.NoError(t, err)
	return res
}

func eval(t *testing.T, expr string, row schema.Row) interface{} {
	t.Helper()
	mod, err := parser.Parse("variable x: from 2020-01-01: " + expr)
	require.NoError(t, err)
	v, err := Eval(mod.Variables[0].Values[0].Expression, &Context{
		Computed:   map[string]interface{}{},
		CurrentRow: row,
	})
	require.NoError(t, err)
	return v
}

func TestEntityFormulaWithScalar(t *testing.T) {
	i := compile(t, "2024-06-01", `
entity person(income: float)
variable person/tax:
  entity: person
  from 2020-01-01: max(0, income - 12500) * 0.20
`)
	res := run(t, i, map[string][]schema.Row{
		"person": {
			{"id": 1, "income": 10000.0},
			{"id": 2, "income": 20000.0},
			{"id": 3, "income": 50000.0},
		},
	})
	require.Equal(t, []interface{}{0.0, 1500.0, 7500.0}, res.Entity["person"]["person/tax"])
}

func TestScalarFeedsEntityFormula(t *testing.T) {
	i := compile(t, "2024-06-01", `
entity person(income: float)
variable gov/rate: from 2020-01-01: 0.22
variable person/tax:
  entity: person
  from 2020-01-01: income * gov/rate
`)
	res := run(t, i, map[string][]schema.Row{
		"person": {{"id": 1, "income": 100.0}},
	})
	require.Equal(t, 0.22, res.Scalars["gov/rate"])
	require.Equal(t, []interface{}{22.0}, res.Entity["person"]["person/tax"])
}

func TestEntityVarSeesPriorEntityVarOnSameRow(t *testing.T) {
	i := compile(t, "2024-06-01", `
entity person(income: float)
variable person/tax:
  entity: person
  from 2020-01-01: income * 0.2
variable person/net:
  entity: person
  from 2020-01-01: income - person/tax
`)
	res := run(t, i, map[string][]schema.Row{
		"person": {
			{"id": 1, "income": 100.0},
			{"id": 2, "income": 200.0},
		},
	})
	require.Equal(t, []interface{}{80.0, 160.0}, res.Entity["person"]["person/net"])
}

func TestSemanticIsolation(t *testing.T) {
	src := `
entity person(income: float)
variable gov/rate: from 2020-01-01: 0.22
`
	i := compile(t, "2024-06-01", src)

	empty := run(t, i, map[string][]schema.Row{})
	populated := run(t, i, map[string][]schema.Row{
		"person": {{"id": 1, "income": 1.0}, {"id": 2, "income": 2.0}},
	})
	require.Equal(t, empty.Scalars["gov/rate"], populated.Scalars["gov/rate"])
}

func TestRowIndependence(t *testing.T) {
	i := compile(t, "2024-06-01", `
entity person(income: float)
variable person/tax:
  entity: person
  from 2020-01-01: income * 0.2
`)
	forward := run(t, i, map[string][]schema.Row{
		"person": {{"id": 1, "income": 10.0}, {"id": 2, "income": 20.0}, {"id": 3, "income": 30.0}},
	})
	reversed := run(t, i, map[string][]schema.Row{
		"person": {{"id": 3, "income": 30.0}, {"id": 2, "income": 20.0}, {"id": 1, "income": 10.0}},
	})

	fwd := forward.Entity["person"]["person/tax"]
	rev := reversed.Entity["person"]["person/tax"]
	require.Len(t, rev, len(fwd))
	for idx := range fwd {
		require.Equal(t, fwd[idx], rev[len(rev)-1-idx])
	}
}

func TestReverseRelationAggregation(t *testing.T) {
	i := compile(t, "2024-06-01", `
entity household(region: str)
entity person(income: float, household_id -> household)
variable household/total_income:
  entity: household
  from 2020-01-01: sum(person.income)
variable household/size:
  entity: household
  from 2020-01-01: len(person.income)
`)
	res := run(t, i, map[string][]schema.Row{
		"household": {
			{"id": 1, "region": "north"},
			{"id": 2, "region": "south"},
		},
		"person": {
			{"id": 1, "income": 100.0, "household_id": 1},
			{"id": 2, "income": 200.0, "household_id": 1},
			{"id": 3, "income": 50.0, "household_id": 2},
		},
	})
	require.Equal(t, []interface{}{300.0, 50.0}, res.Entity["household"]["household/total_income"])
	require.Equal(t, []interface{}{int64(2), int64(1)}, res.Entity["household"]["household/size"])
}

func TestNamedReverseRelation(t *testing.T) {
	i := compile(t, "2024-06-01", `
entity household(members: [person])
entity person(income: float, household_id -> household)
variable household/total_income:
  entity: household
  from 2020-01-01: sum(members.income)
`)
	res := run(t, i, map[string][]schema.Row{
		"household": {{"id": 1}},
		"person": {
			{"id": 1, "income": 100.0, "household_id": 1},
			{"id": 2, "income": 250.0, "household_id": 1},
		},
	})
	require.Equal(t, []interface{}{350.0}, res.Entity["household"]["household/total_income"])
}

func TestDivisionByZeroReturnsZero(t *testing.T) {
	tests := []struct {
		expr string
		row  schema.Row
	}{
		{"x / y", schema.Row{"x": 10.0, "y": 0.0}},
		{"0 / 0", nil},
		{"-5 / 0", nil},
	}
	for _, tt := range tests {
		require.Equal(t, 0.0, eval(t, tt.expr, tt.row), "expr %q", tt.expr)
	}
}

func TestArithmeticAndComparisons(t *testing.T) {
	tests := []struct {
		expr string
		want interface{}
	}{
		{"1 + 2", int64(3)},
		{"1.5 + 2", 3.5},
		{"10 - 4", int64(6)},
		{"3 * 4", int64(12)},
		{"10 / 4", 2.5},
		{"-3", int64(-3)},
		{"2 < 3", true},
		{"3 <= 3", true},
		{"2 > 3", false},
		{"3 >= 4", false},
		{"2 == 2.0", true},
		{"2 != 3", true},
		{"true and false", false},
		{"true or false", true},
		{"not true", false},
		{"not 0", true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, eval(t, tt.expr, nil), "expr %q", tt.expr)
	}
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		expr string
		want interface{}
	}{
		{"min(3, 1, 2)", 1.0},
		{"max(3, 1, 2)", 3.0},
		{"abs(-4)", 4.0},
		{"round(2.4)", 2.0},
		{"round(2.6)", 3.0},
		{"sum(1, 2, 3)", 6.0},
		{"clip(150, 0, 100)", 100.0},
		{"clip(-10, 0, 100)", 0.0},
		{"clip(42, 0, 100)", 42.0},
		{"any(0, 0, 1)", true},
		{"any(0, 0)", false},
		{"all(1, 2, 3)", true},
		{"all(1, 0)", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, eval(t, tt.expr, nil), "expr %q", tt.expr)
	}
}

func TestUnknownBuiltin(t *testing.T) {
	mod, err := parser.Parse("variable x: from 2020-01-01: frobnicate(1)")
	require.NoError(t, err)
	_, err = Eval(mod.Variables[0].Values[0].Expression, &Context{Computed: map[string]interface{}{}})
	require.True(t, racerr.ErrUnknownBuiltin.Is(err))
}

func TestUndefinedReference(t *testing.T) {
	mod, err := parser.Parse("variable x: from 2020-01-01: gov/missing + 1")
	require.NoError(t, err)
	_, err = Eval(mod.Variables[0].Values[0].Expression, &Context{Computed: map[string]interface{}{}})
	require.True(t, racerr.ErrUndefinedReference.Is(err))
}

func TestCondEvaluatesSelectedBranchOnly(t *testing.T) {
	// The else branch holds an undefined reference; picking then must
	// not touch it.
	require.Equal(t, int64(1), eval(t, "if 2 > 1: 1 else: gov/undefined", nil))
}

func TestMatchFirstWins(t *testing.T) {
	row := schema.Row{"band": int64(2)}
	require.Equal(t, int64(20), eval(t, "match band: 1 => 10, 2 => 20, 2 => 99, else => 0", row))
	require.Equal(t, int64(0), eval(t, "match band: 7 => 10, else => 0", row))
}

func TestMatchStrings(t *testing.T) {
	row := schema.Row{"region": "south"}
	require.Equal(t, int64(2), eval(t, `match region: "north" => 1, "south" => 2, else => 0`, row))
}

func TestNonExhaustiveMatch(t *testing.T) {
	mod, err := parser.Parse("variable x: from 2020-01-01: match 5: 1 => 10, 2 => 20")
	require.NoError(t, err)
	_, err = Eval(mod.Variables[0].Values[0].Expression, &Context{Computed: map[string]interface{}{}})
	require.True(t, racerr.ErrNonExhaustiveMatch.Is(err))
}

func TestResultsAlignedWithInputRows(t *testing.T) {
	i := compile(t, "2024-06-01", `
entity person(income: float)
variable person/double:
  entity: person
  from 2020-01-01: income * 2
`)
	rows := []schema.Row{}
	for idx := 0; idx < 100; idx++ {
		rows = append(rows, schema.Row{"id": idx, "income": float64(idx)})
	}
	res := run(t, i, map[string][]schema.Row{"person": rows})
	col := res.Entity["person"]["person/double"]
	require.Len(t, col, 100)
	for idx, v := range col {
		require.Equal(t, float64(idx*2), v)
	}
}
