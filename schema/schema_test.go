package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/parser"
)

func merge(t *testing.T, sources ...string) (*Schema, error) {
	t.Helper()
	modules := make([]*ast.Module, 0, len(sources))
	for _, src := range sources {
		mod, err := parser.Parse(src)
		require.NoError(t, err)
		modules = append(modules, mod)
	}
	return Merge(modules)
}

func TestMergeUnionsFields(t *testing.T) {
	s, err := merge(t,
		"entity person(income: float)",
		"entity person(age: int)",
	)
	require.NoError(t, err)

	p := s.Entities["person"]
	require.NotNil(t, p)
	require.Equal(t, "id", p.PrimaryKey)

	income, ok := p.Column("income")
	require.True(t, ok)
	require.Equal(t, ast.TypeFloat, income.Type)
	age, ok := p.Column("age")
	require.True(t, ok)
	require.Equal(t, ast.TypeInt, age.Type)
}

func TestMergeTypeConflict(t *testing.T) {
	_, err := merge(t,
		"entity person(income: float)",
		"entity person(income: str)",
	)
	require.True(t, racerr.ErrFieldTypeConflict.Is(err))
}

func TestMergeDuplicateFieldSameType(t *testing.T) {
	s, err := merge(t,
		"entity person(income: float)",
		"entity person(income: float)",
	)
	require.NoError(t, err)
	require.Len(t, s.Entities["person"].Columns, 1)
}

func TestForeignKeyBecomesColumn(t *testing.T) {
	s, err := merge(t, `
entity household(region: str)
entity person(household_id -> household)
`)
	require.NoError(t, err)

	col, ok := s.Entities["person"].Column("household_id")
	require.True(t, ok)
	require.True(t, col.IsFK)
	require.Equal(t, "household", col.FKTarget)
}

func TestReverseRelationDerivedFromFK(t *testing.T) {
	s, err := merge(t, `
entity household(region: str)
entity person(household_id -> household)
`)
	require.NoError(t, err)

	rels := s.Entities["household"].Reverse
	require.Len(t, rels, 1)
	require.Equal(t, "person", rels[0].Entity)
	require.Equal(t, "household_id", rels[0].ForeignKey)
}

func TestExplicitOneToManyKept(t *testing.T) {
	s, err := merge(t, `
entity household(members: [person])
entity person(household_id -> household)
`)
	require.NoError(t, err)

	rels := s.Entities["household"].Reverse
	require.Len(t, rels, 1)
	require.Equal(t, "members", rels[0].Name)
	require.Equal(t, "person", rels[0].Entity)
	// The explicit declaration names the child; the foreign key is
	// filled in from the inverse FK.
	require.Equal(t, "household_id", rels[0].ForeignKey)
}

func TestValidateRowMissingField(t *testing.T) {
	s, err := merge(t, "entity person(income: float)")
	require.NoError(t, err)

	err = s.Entities["person"].ValidateRow(Row{"id": 1}, nil)
	require.True(t, racerr.ErrInvalidData.Is(err))

	err = s.Entities["person"].ValidateRow(Row{"id": 1, "income": 10.0}, nil)
	require.NoError(t, err)
}

func TestValidateRowIntegerRange(t *testing.T) {
	s, err := merge(t, "entity person(age: int)")
	require.NoError(t, err)
	p := s.Entities["person"]

	require.NoError(t, p.ValidateRow(Row{"age": int64(1) << 52}, nil))

	err = p.ValidateRow(Row{"age": int64(1) << 54}, nil)
	require.True(t, racerr.ErrInvalidData.Is(err))

	err = p.ValidateRow(Row{"age": 1.5}, nil)
	require.True(t, racerr.ErrInvalidData.Is(err))
}

func TestValidateRowForeignKey(t *testing.T) {
	s, err := merge(t, `
entity household(region: str)
entity person(household_id -> household)
`)
	require.NoError(t, err)
	p := s.Entities["person"]

	present := func(entity string, pk interface{}) bool { return pk == 1 }

	require.NoError(t, p.ValidateRow(Row{"household_id": 1}, present))

	err = p.ValidateRow(Row{"household_id": 2}, present)
	require.True(t, racerr.ErrInvalidData.Is(err))

	// A null FK is always permitted.
	require.NoError(t, p.ValidateRow(Row{"household_id": nil}, present))
	require.NoError(t, p.ValidateRow(Row{}, present))
}
