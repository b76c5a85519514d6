// Package data implements the Data input snapshot and Result output shape
// IR evaluation reads and produces: entity row tables indexed by primary
// key for O(1) foreign-key resolution, and a write-once scalar/entity
// result aligned row-for-row with the input.
package data

import (
	"fmt"

	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/schema"
)

// Data is an immutable input snapshot: for each entity name, the ordered
// rows of that table, plus an index from (entity, primary key) to row for
// foreign-key resolution. Data is built once and never mutated; evaluation
// reads it but never writes it.
type Data struct {
	schema *schema.Schema
	rows   map[string][]schema.Row
	index  map[string]map[interface{}]schema.Row
}

// New builds a Data snapshot from raw rows, validating every row against
// sch and indexing primary keys. Returns InvalidData if any row is missing
// a required field, carries an out-of-range integer, or a foreign key
// references an absent primary key in another entity's table supplied in
// the same call.
func New(sch *schema.Schema, rows map[string][]schema.Row) (*Data, error) {
	d := &Data{
		schema: sch,
		rows:   rows,
		index:  map[string]map[interface{}]schema.Row{},
	}

	for name, entityRows := range rows {
		ent, ok := sch.Entities[name]
		if !ok {
			return nil, racerr.ErrInvalidData.New(fmt.Sprintf("unknown entity %q in input data", name))
		}
		idx := make(map[interface{}]schema.Row, len(entityRows))
		for _, row := range entityRows {
			pk, ok := row[ent.PrimaryKey]
			if !ok {
				return nil, racerr.ErrInvalidData.New(fmt.Sprintf("entity %q row missing primary key %q", name, ent.PrimaryKey))
			}
			if _, dup := idx[pk]; dup {
				return nil, racerr.ErrInvalidData.New(fmt.Sprintf("entity %q has duplicate primary key %v", name, pk))
			}
			idx[pk] = row
		}
		d.index[name] = idx
	}

	for name, entityRows := range rows {
		ent := sch.Entities[name]
		for _, row := range entityRows {
			if err := ent.ValidateRow(row, d.hasPK); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}

func (d *Data) hasPK(entity string, pk interface{}) bool {
	idx, ok := d.index[entity]
	if !ok {
		return true // the referenced entity's table wasn't supplied in this run; not our call to reject
	}
	_, ok = idx[pk]
	return ok
}

// Schema returns the schema this Data was validated against.
func (d *Data) Schema() *schema.Schema {
	return d.schema
}

// Rows returns the ordered rows for entity, or nil if that entity has no
// rows in this snapshot.
func (d *Data) Rows(entity string) []schema.Row {
	return d.rows[entity]
}

// RowByPK looks up a single row by (entity, primary key), the mechanism
// foreign-key resolution uses.
func (d *Data) RowByPK(entity string, pk interface{}) (schema.Row, bool) {
	idx, ok := d.index[entity]
	if !ok {
		return nil, false
	}
	row, ok := idx[pk]
	return row, ok
}

// Children returns the rows of rel.Entity whose rel.ForeignKey field
// equals parentPK. The reverse relation is always a view computed here,
// never a stored field on the parent row.
func (d *Data) Children(rel schema.Reverse, parentPK interface{}) []schema.Row {
	var out []schema.Row
	for _, row := range d.rows[rel.Entity] {
		if fk, ok := row[rel.ForeignKey]; ok && fk == parentPK {
			out = append(out, row)
		}
	}
	return out
}

// Result is the write-once output of a run: scalars computed once, and
// entity arrays aligned row-for-row with the input table for that entity.
type Result struct {
	Scalars map[string]interface{}
	Entity  map[string]map[string][]interface{} // entity -> path -> array
}

// NewResult returns an empty Result ready to be populated in topological
// order.
func NewResult() *Result {
	return &Result{
		Scalars: map[string]interface{}{},
		Entity:  map[string]map[string][]interface{}{},
	}
}

// AppendEntityValue appends value to the output array for (entity, path),
// preserving row order. Callers append in the same order they iterate
// input rows so arrays stay index-aligned with the input table.
func (r *Result) AppendEntityValue(entity, path string, value interface{}) {
	if r.Entity[entity] == nil {
		r.Entity[entity] = map[string][]interface{}{}
	}
	r.Entity[entity][path] = append(r.Entity[entity][path], value)
}
