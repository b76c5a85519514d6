package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/parser"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func compile(t *testing.T, asOf string, sources ...string) error {
	t.Helper()
	modules := make([]*ast.Module, 0, len(sources))
	for _, src := range sources {
		mod, err := parser.Parse(src)
		require.NoError(t, err)
		modules = append(modules, mod)
	}
	_, err := Compile(modules, date(t, asOf))
	return err
}

func mustCompile(t *testing.T, asOf string, sources ...string) map[string]ast.Expr {
	t.Helper()
	modules := make([]*ast.Module, 0, len(sources))
	for _, src := range sources {
		mod, err := parser.Parse(src)
		require.NoError(t, err)
		modules = append(modules, mod)
	}
	compiled, err := Compile(modules, date(t, asOf))
	require.NoError(t, err)
	out := map[string]ast.Expr{}
	for path, rv := range compiled.Variables {
		out[path] = rv.Expr
	}
	return out
}

func TestTwoLayerPicksLatestApplicable(t *testing.T) {
	src := `
variable gov/tax/rate:
  from 2020-01-01: 0.20
  from 2023-01-01: 0.22
`
	vars := mustCompile(t, "2024-06-01", src)
	require.Equal(t, ast.Literal{Value: 0.22}, vars["gov/tax/rate"])

	vars = mustCompile(t, "2021-06-01", src)
	require.Equal(t, ast.Literal{Value: 0.20}, vars["gov/tax/rate"])
}

func TestLastWinsOnOverlap(t *testing.T) {
	// Both intervals contain the date; declaration order breaks the tie.
	vars := mustCompile(t, "2024-06-01", `
variable gov/rate:
  from 2020-01-01: 0.20
  from 2020-01-01: 0.25
`)
	require.Equal(t, ast.Literal{Value: 0.25}, vars["gov/rate"])
}

func TestEndDateIsExclusiveUpperBound(t *testing.T) {
	src := `
variable gov/rate:
  from 2020-01-01 to 2023-01-01: 0.20
`
	vars := mustCompile(t, "2022-12-31", src)
	require.Equal(t, ast.Literal{Value: 0.20}, vars["gov/rate"])

	err := compile(t, "2023-01-01", src)
	require.True(t, racerr.ErrNoTemporalValue.Is(err))
}

func TestAmendmentOverrides(t *testing.T) {
	base := `
variable gov/uc/standard_allowance:
  from 2022-01-01: 368.74
`
	amendment := `
amend gov/uc/standard_allowance:
  from 2024-04-01: 400.00
`
	vars := mustCompile(t, "2024-06-01", base, amendment)
	require.Equal(t, ast.Literal{Value: 400.00}, vars["gov/uc/standard_allowance"])

	vars = mustCompile(t, "2023-01-01", base, amendment)
	require.Equal(t, ast.Literal{Value: 368.74}, vars["gov/uc/standard_allowance"])
}

func TestLaterModuleAmendmentWins(t *testing.T) {
	base := "variable gov/rate: from 2020-01-01: 0.20"
	first := "amend gov/rate: from 2024-01-01: 0.30"
	second := "amend gov/rate: from 2024-01-01: 0.35"

	vars := mustCompile(t, "2024-06-01", base, first, second)
	require.Equal(t, ast.Literal{Value: 0.35}, vars["gov/rate"])
}

func TestUnknownAmendmentTarget(t *testing.T) {
	err := compile(t, "2024-06-01", "amend gov/nope: from 2020-01-01: 1")
	require.True(t, racerr.ErrUnknownAmendmentTarget.Is(err))
}

func TestDuplicateDeclaration(t *testing.T) {
	err := compile(t, "2024-06-01",
		"variable gov/rate: from 2020-01-01: 0.20",
		"variable gov/rate: from 2020-01-01: 0.25",
	)
	require.True(t, racerr.ErrDuplicateDeclaration.Is(err))
}

func TestNoTemporalValue(t *testing.T) {
	err := compile(t, "2019-01-01", "variable gov/rate: from 2020-01-01: 0.20")
	require.True(t, racerr.ErrNoTemporalValue.Is(err))
}

func TestFieldTypeConflict(t *testing.T) {
	err := compile(t, "2024-06-01",
		"entity person(income: float)",
		"entity person(income: int)",
	)
	require.True(t, racerr.ErrFieldTypeConflict.Is(err))
}

func TestCycleDetection(t *testing.T) {
	err := compile(t, "2024-06-01", `
variable gov/a: from 2020-01-01: gov/b + 1
variable gov/b: from 2020-01-01: gov/a + 1
`)
	require.True(t, racerr.ErrCircularDependency.Is(err))
	require.Regexp(t, `gov/(a|b)`, err.Error())
}

func TestSelfCycle(t *testing.T) {
	err := compile(t, "2024-06-01", "variable gov/a: from 2020-01-01: gov/a + 1")
	require.True(t, racerr.ErrCircularDependency.Is(err))
}

func TestTopologicalOrder(t *testing.T) {
	modules := []*ast.Module{}
	mod, err := parser.Parse(`
variable gov/c: from 2020-01-01: gov/b * 2
variable gov/b: from 2020-01-01: gov/a + 1
variable gov/a: from 2020-01-01: 1
`)
	require.NoError(t, err)
	modules = append(modules, mod)

	compiled, err := Compile(modules, date(t, "2024-06-01"))
	require.NoError(t, err)

	pos := map[string]int{}
	for idx, path := range compiled.Order {
		pos[path] = idx
	}
	// Every dependency precedes its dependent.
	for path, rv := range compiled.Variables {
		for _, dep := range rv.Deps {
			require.Less(t, pos[dep], pos[path], "%s must follow %s", path, dep)
		}
	}
}

func TestBareIdentifiersCreateNoEdges(t *testing.T) {
	mod, err := parser.Parse(`
entity person(income: float)
variable person/tax:
  entity: person
  from 2020-01-01: income * 0.2
`)
	require.NoError(t, err)
	compiled, err := Compile([]*ast.Module{mod}, date(t, "2024-06-01"))
	require.NoError(t, err)
	require.Empty(t, compiled.Variables["person/tax"].Deps)
}

func TestMissingDependencyNotFatal(t *testing.T) {
	// Paths referenced but never declared resolve (or fail) at
	// evaluation, not at compile time.
	mod, err := parser.Parse("variable gov/x: from 2020-01-01: gov/unknown + 1")
	require.NoError(t, err)
	_, err = Compile([]*ast.Module{mod}, date(t, "2024-06-01"))
	require.NoError(t, err)
}

func TestDeterministicOrder(t *testing.T) {
	src := `
variable gov/a: from 2020-01-01: 1
variable gov/b: from 2020-01-01: 2
variable gov/c: from 2020-01-01: 3
`
	mod, err := parser.Parse(src)
	require.NoError(t, err)
	first, err := Compile([]*ast.Module{mod}, date(t, "2024-06-01"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		mod, err := parser.Parse(src)
		require.NoError(t, err)
		again, err := Compile([]*ast.Module{mod}, date(t, "2024-06-01"))
		require.NoError(t, err)
		require.Equal(t, first.Order, again.Order)
	}
}
