// Package schema defines the relational data model racgo's IR is evaluated
// against: entities, typed fields, foreign keys, reverse relations, and
// validation of input rows against declared types.
package schema

import (
	"fmt"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/internal/racerr"
)

// maxSafeInt bounds integer field values to the range that survives a
// round trip through the native backend's float64 wire format without
// precision loss.
const maxSafeInt = int64(1) << 53

// Column is a typed field on an Entity; a foreign-key field is a Column
// with IsFK set. Reverse relations are not columns (see Entity.Reverse).
type Column struct {
	Name     string
	Type     ast.FieldType
	Default  ast.Expr // nil if the field has no declared default
	IsFK     bool
	FKTarget string
}

// Reverse is an auto-derived many-side accessor: rows of Entity whose
// ForeignKey field equals the parent row's primary key.
type Reverse struct {
	Name       string // accessor name exposed on the parent entity
	Entity     string // child entity name
	ForeignKey string // child field pointing back at the parent
}

// Entity is a named relational table: a primary-key field, typed columns,
// and the reverse relations other entities' foreign keys derive onto it.
type Entity struct {
	Name       string
	PrimaryKey string
	Columns    []Column
	Reverse    []Reverse
}

// Column looks up a declared column by name.
func (e *Entity) Column(name string) (Column, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Schema is the merged set of entity declarations a compiled IR is
// evaluated against.
type Schema struct {
	Entities map[string]*Entity
}

// New returns an empty Schema.
func New() *Schema {
	return &Schema{Entities: map[string]*Entity{}}
}

// Merge unions entity declarations from modules into the schema. Entities
// with the same name across modules merge by taking the union of columns
// and relations; a field declared twice with conflicting types is a
// FieldTypeConflict error.
func Merge(modules []*ast.Module) (*Schema, error) {
	s := New()
	for _, mod := range modules {
		for _, decl := range mod.Entities {
			if err := s.mergeEntity(decl); err != nil {
				return nil, err
			}
		}
	}
	s.deriveReverseRelations()
	return s, nil
}

func (s *Schema) mergeEntity(decl ast.Entity) error {
	e, ok := s.Entities[decl.Name]
	if !ok {
		e = &Entity{Name: decl.Name, PrimaryKey: decl.PrimaryKey}
		if e.PrimaryKey == "" {
			e.PrimaryKey = "id"
		}
		s.Entities[decl.Name] = e
	}

	for _, f := range decl.Fields {
		if existing, ok := e.Column(f.Name); ok {
			if existing.Type != f.Type {
				return racerr.ErrFieldTypeConflict.New(decl.Name, f.Name, existing.Type, f.Type)
			}
			continue
		}
		e.Columns = append(e.Columns, Column{Name: f.Name, Type: f.Type, Default: f.Default})
	}

	for _, fk := range decl.ForeignKeys {
		if _, ok := e.Column(fk.Field); ok {
			continue
		}
		e.Columns = append(e.Columns, Column{Name: fk.Field, Type: ast.TypeInt, IsFK: true, FKTarget: fk.Target})
	}

	for _, rel := range decl.OneToMany {
		e.Reverse = append(e.Reverse, Reverse{Name: rel.Name, Entity: rel.Target})
	}

	return nil
}

// deriveReverseRelations adds the default reverse-relation view for every
// foreign key in the schema that was not already named by an explicit
// one-to-many declaration, so that a household always gets a "members"-
// style accessor back from a person's household_id FK even if the DSL
// source never spelled one out.
func (s *Schema) deriveReverseRelations() {
	for _, child := range s.Entities {
		for _, col := range child.Columns {
			if !col.IsFK {
				continue
			}
			parent, ok := s.Entities[col.FKTarget]
			if !ok {
				continue
			}
			if linkExisting(parent, child.Name, col.Name) {
				continue
			}
			parent.Reverse = append(parent.Reverse, Reverse{
				Name:       child.Name,
				Entity:     child.Name,
				ForeignKey: col.Name,
			})
		}
	}
}

// linkExisting reports whether parent already exposes a reverse relation
// for (entity, fk), filling in the foreign key on an explicit one-to-many
// declaration that named the child entity but not the key.
func linkExisting(parent *Entity, entity, fk string) bool {
	for i := range parent.Reverse {
		r := &parent.Reverse[i]
		if r.Entity != entity {
			continue
		}
		if r.ForeignKey == "" {
			r.ForeignKey = fk
			return true
		}
		if r.ForeignKey == fk {
			return true
		}
	}
	return false
}

// Row is one entity record: a mapping from field name to primitive value.
type Row map[string]interface{}

// ValidateRow checks row against e's declared columns: every non-nullable
// field without a default must be present, integer values must be within
// the safe float64-roundtrip range, and foreign keys are checked against
// the supplied primary-key index (nil values are always permitted for an
// FK).
func (e *Entity) ValidateRow(row Row, pkIndex func(entity string, pk interface{}) bool) error {
	for _, col := range e.Columns {
		v, present := row[col.Name]
		if !present || v == nil {
			if col.Default != nil || col.IsFK {
				continue
			}
			return racerr.ErrInvalidData.New(fmt.Sprintf("entity %q missing required field %q", e.Name, col.Name))
		}
		if col.Type == ast.TypeInt {
			n, ok := asInt(v)
			if !ok {
				return racerr.ErrInvalidData.New(fmt.Sprintf("entity %q field %q is not an integer", e.Name, col.Name))
			}
			if n > maxSafeInt || n < -maxSafeInt {
				return racerr.ErrInvalidData.New(fmt.Sprintf("entity %q field %q value %d exceeds safe integer range", e.Name, col.Name, n))
			}
		}
		if col.IsFK && pkIndex != nil {
			if !pkIndex(col.FKTarget, v) {
				return racerr.ErrInvalidData.New(fmt.Sprintf("entity %q field %q references missing %s primary key %v", e.Name, col.Name, col.FKTarget, v))
			}
		}
	}
	return nil
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
