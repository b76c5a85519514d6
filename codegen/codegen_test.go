package codegen

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/compiler"
	"github.com/rules-as-code/racgo/ir"
	"github.com/rules-as-code/racgo/parser"
)

func compile(t *testing.T, src string) *ir.IR {
	t.Helper()
	mod, err := parser.Parse(src)
	require.NoError(t, err)
	asOf, err := time.Parse("2006-01-02", "2024-06-01")
	require.NoError(t, err)
	compiled, err := compiler.Compile([]*ast.Module{mod}, asOf)
	require.NoError(t, err)
	return compiled
}

func TestGenerateBasicProgram(t *testing.T) {
	i := compile(t, `
entity person(income: float)
variable person/tax:
  entity: person
  from 2020-01-01: max(0, income - 12500) * 0.20
`)
	prog, err := Generate(i, "person", map[string]interface{}{})
	require.NoError(t, err)

	require.Equal(t, "person", prog.Entity)
	require.Equal(t, []string{"income"}, prog.Inputs)
	require.Equal(t, []string{"person/tax"}, prog.Outputs)

	src := prog.Source
	require.Contains(t, src, "package main")
	require.Contains(t, src, "func compute(in Input, sc Scalars) Output")
	require.Contains(t, src, "out.person_tax = ")
	require.Contains(t, src, "in.income")
	require.Contains(t, src, "math.Max")
	require.Contains(t, src, "func main()")
	require.NotContains(t, src, "%!") // no leftover format verbs
}

func TestScalarsBakedIn(t *testing.T) {
	i := compile(t, `
entity person(income: float)
variable gov/rate: from 2020-01-01: 0.22
variable person/tax:
  entity: person
  from 2020-01-01: income * gov/rate
`)
	prog, err := Generate(i, "person", map[string]interface{}{"gov/rate": 0.22})
	require.NoError(t, err)

	require.Contains(t, prog.Source, "gov_rate float64")
	require.Contains(t, prog.Source, "gov_rate: 0.22")
	require.Contains(t, prog.Source, "in.income * sc.gov_rate")
}

func TestPriorEntityOutputsReferenced(t *testing.T) {
	i := compile(t, `
entity person(income: float)
variable person/tax:
  entity: person
  from 2020-01-01: income * 0.2
variable person/net:
  entity: person
  from 2020-01-01: income - person/tax
`)
	prog, err := Generate(i, "person", map[string]interface{}{})
	require.NoError(t, err)

	require.Equal(t, []string{"person/tax", "person/net"}, prog.Outputs)
	require.Contains(t, prog.Source, "out.person_net = (in.income - out.person_tax)")
}

func TestDivisionLowersToDivOrZero(t *testing.T) {
	i := compile(t, `
entity person(a: float, b: float)
variable person/ratio:
  entity: person
  from 2020-01-01: a / b
`)
	prog, err := Generate(i, "person", map[string]interface{}{})
	require.NoError(t, err)
	require.Contains(t, prog.Source, "divOrZero(in.a, in.b)")
}

func TestCondAndMatchLowering(t *testing.T) {
	i := compile(t, `
entity person(age: int, band: int)
variable person/adult:
  entity: person
  from 2020-01-01: if age >= 18: 1 else: 0
variable person/rate:
  entity: person
  from 2020-01-01: match band: 1 => 10, 2 => 20, else => 0
`)
	prog, err := Generate(i, "person", map[string]interface{}{})
	require.NoError(t, err)

	require.Contains(t, prog.Source, "condf(boolf(in.age >= 18), 1, 0)")
	require.Contains(t, prog.Source, "condf(boolf(in.band == 1), 10, condf(boolf(in.band == 2), 20, 0))")
}

func TestMatchWithoutDefaultRejected(t *testing.T) {
	i := compile(t, `
entity person(band: int)
variable person/rate:
  entity: person
  from 2020-01-01: match band: 1 => 10
`)
	_, err := Generate(i, "person", map[string]interface{}{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "default")
}

func TestNonNumericColumnsExcludedFromWire(t *testing.T) {
	i := compile(t, `
entity person(name: str, income: float, dob: date, employed: bool)
variable person/tax:
  entity: person
  from 2020-01-01: income * 0.2
`)
	prog, err := Generate(i, "person", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, []string{"employed", "income"}, prog.Inputs)
}

func TestUnknownEntityRejected(t *testing.T) {
	i := compile(t, "entity person(income: float)")
	_, err := Generate(i, "company", nil)
	require.Error(t, err)
}

func TestGeneratedSourceIsDeterministic(t *testing.T) {
	src := `
entity person(income: float, age: int)
variable gov/rate: from 2020-01-01: 0.22
variable person/tax:
  entity: person
  from 2020-01-01: income * gov/rate
`
	scalars := map[string]interface{}{"gov/rate": 0.22}
	first, err := Generate(compile(t, src), "person", scalars)
	require.NoError(t, err)
	for idx := 0; idx < 5; idx++ {
		again, err := Generate(compile(t, src), "person", scalars)
		require.NoError(t, err)
		require.Equal(t, first.Source, again.Source)
	}
}

func TestIdentSafe(t *testing.T) {
	require.Equal(t, "gov_tax_rate", identSafe("gov/tax/rate"))
	require.False(t, strings.Contains(identSafe("a/b.c"), "/"))
}
