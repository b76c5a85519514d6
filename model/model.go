// Package model is the end-user facade over the racgo core: load DSL
// sources, compile them at a date, run the compiled rules over microdata
// through either evaluation backend, and compare a baseline against a
// reform.
package model

import (
	"os"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/compare"
	"github.com/rules-as-code/racgo/compiler"
	"github.com/rules-as-code/racgo/data"
	"github.com/rules-as-code/racgo/internal/racerr"
	"github.com/rules-as-code/racgo/interp"
	"github.com/rules-as-code/racgo/ir"
	"github.com/rules-as-code/racgo/native"
	"github.com/rules-as-code/racgo/parser"
	"github.com/rules-as-code/racgo/schema"
)

// Config selects the evaluation backend and its knobs.
type Config struct {
	// PreferNative routes Run through the code-generated compute
	// binaries instead of the tree-walking interpreter.
	PreferNative bool

	// Native configures the native driver when PreferNative is set.
	Native native.Config
}

// Model is a compiled rule system ready to run over input snapshots.
type Model struct {
	cfg     Config
	asOf    time.Time
	modules []*ast.Module
	ir      *ir.IR
	scalars map[string]interface{}
	log     *logrus.Entry
}

// FromSource parses and compiles sources as of asOf. A zero asOf
// defaults to the current date.
func FromSource(cfg Config, asOf time.Time, sources ...string) (*Model, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}

	modules := make([]*ast.Module, 0, len(sources))
	for _, src := range sources {
		mod, err := parser.Parse(src)
		if err != nil {
			if perr, ok := err.(*parser.Error); ok {
				return nil, racerr.ErrParse.New(perr.Line, perr.Col, perr.Msg)
			}
			return nil, err
		}
		modules = append(modules, mod)
	}

	compiled, err := compiler.Compile(modules, asOf)
	if err != nil {
		return nil, err
	}

	m := &Model{
		cfg:     cfg,
		asOf:    asOf,
		modules: modules,
		ir:      compiled,
		log:     logrus.WithField("component", "model"),
	}

	// Scalars are computed once, up front, against an empty snapshot:
	// their values never depend on any entity table.
	empty, err := data.New(compiled.Schema, map[string][]schema.Row{})
	if err != nil {
		return nil, err
	}
	res, err := interp.Run(compiled, empty)
	if err != nil {
		return nil, err
	}
	m.scalars = res.Scalars

	return m, nil
}

// FromFile reads and compiles source files as of asOf.
func FromFile(cfg Config, asOf time.Time, paths ...string) (*Model, error) {
	sources := make([]string, 0, len(paths))
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading source %s", path)
		}
		sources = append(sources, string(src))
	}
	return FromSource(cfg, asOf, sources...)
}

// IR exposes the compiled intermediate representation.
func (m *Model) IR() *ir.IR { return m.ir }

// AsOf returns the compilation date.
func (m *Model) AsOf() time.Time { return m.asOf }

// Scalars returns the scalar variables' values, path-keyed.
func (m *Model) Scalars() map[string]interface{} { return m.scalars }

// RunResult is one run's outputs: per-entity 2D arrays (rows × output
// columns, index-aligned with the input rows) with a side table of
// output column names in IR order, plus the run's scalar values.
type RunResult struct {
	Arrays      map[string][][]float64
	OutputNames map[string][]string
	Scalars     map[string]interface{}
}

// Columns converts the result to columnar form for the comparison
// harness.
func (r *RunResult) Columns() compare.Columns {
	out := compare.Columns{}
	for entity, rows := range r.Arrays {
		names := r.OutputNames[entity]
		cols := make(map[string][]float64, len(names))
		for c, name := range names {
			col := make([]float64, len(rows))
			for idx, row := range rows {
				col[idx] = row[c]
			}
			cols[name] = col
		}
		out[entity] = cols
	}
	return out
}

// Run evaluates the model over input, a dict-of-list-of-dict snapshot
// keyed by entity name. Values are leniently coerced to the declared
// field types; rows missing a field with a declared default get the
// default.
func (m *Model) Run(input map[string][]schema.Row) (*RunResult, error) {
	span := opentracing.StartSpan("racgo.run")
	defer span.Finish()

	m.log.WithFields(logrus.Fields{
		"as_of":    m.asOf.Format("2006-01-02"),
		"entities": len(input),
		"native":   m.cfg.PreferNative,
	}).Debug("running model")

	d, err := m.buildData(input)
	if err != nil {
		return nil, err
	}

	if m.cfg.PreferNative {
		return m.runNative(d)
	}
	return m.runInterp(d)
}

// Table is the 2D-array input form: column names plus a row-major value
// matrix.
type Table struct {
	Columns []string
	Values  [][]float64
}

// RunTables converts dict-of-2D-array input to rows and runs the model.
// The primary-key column must be present like any other.
func (m *Model) RunTables(input map[string]Table) (*RunResult, error) {
	rows := make(map[string][]schema.Row, len(input))
	for entity, tbl := range input {
		entityRows := make([]schema.Row, len(tbl.Values))
		for idx, vals := range tbl.Values {
			if len(vals) != len(tbl.Columns) {
				return nil, errors.Errorf("entity %q row %d has %d values, want %d", entity, idx, len(vals), len(tbl.Columns))
			}
			row := make(schema.Row, len(vals))
			for c, name := range tbl.Columns {
				row[name] = vals[c]
			}
			entityRows[idx] = row
		}
		rows[entity] = entityRows
	}
	return m.Run(rows)
}

// buildData coerces caller-supplied values to declared types, fills
// declared defaults, and validates the snapshot.
func (m *Model) buildData(input map[string][]schema.Row) (*data.Data, error) {
	coerced := make(map[string][]schema.Row, len(input))
	for name, rows := range input {
		ent, ok := m.ir.Schema.Entities[name]
		if !ok {
			// Let data.New produce the canonical InvalidData error.
			coerced[name] = rows
			continue
		}
		outRows := make([]schema.Row, len(rows))
		for idx, row := range rows {
			out := make(schema.Row, len(row))
			for k, v := range row {
				out[k] = v
			}
			for _, col := range ent.Columns {
				v, present := out[col.Name]
				if !present || v == nil {
					if col.Default != nil {
						dv, err := interp.Eval(col.Default, &interp.Context{Computed: m.scalars})
						if err != nil {
							return nil, err
						}
						out[col.Name] = dv
					}
					continue
				}
				cv, err := coerce(col.Type, v)
				if err != nil {
					return nil, errors.Wrapf(err, "entity %q field %q", name, col.Name)
				}
				out[col.Name] = cv
			}
			outRows[idx] = out
		}
		coerced[name] = outRows
	}
	return data.New(m.ir.Schema, coerced)
}

func coerce(t ast.FieldType, v interface{}) (interface{}, error) {
	switch t {
	case ast.TypeInt:
		return cast.ToInt64E(v)
	case ast.TypeFloat:
		return cast.ToFloat64E(v)
	case ast.TypeBool:
		return cast.ToBoolE(v)
	case ast.TypeStr, ast.TypeDate:
		return cast.ToStringE(v)
	}
	return v, nil
}

func (m *Model) runInterp(d *data.Data) (*RunResult, error) {
	res, err := interp.Run(m.ir, d)
	if err != nil {
		return nil, err
	}

	out := &RunResult{
		Arrays:      map[string][][]float64{},
		OutputNames: map[string][]string{},
		Scalars:     res.Scalars,
	}
	for entity := range m.ir.Schema.Entities {
		names := m.ir.EntityVars(entity)
		if len(names) == 0 {
			continue
		}
		nRows := len(d.Rows(entity))
		rows := make([][]float64, nRows)
		for idx := range rows {
			rows[idx] = make([]float64, len(names))
		}
		for c, name := range names {
			col := res.Entity[entity][name]
			for idx, v := range col {
				f, err := cast.ToFloat64E(v)
				if err != nil {
					return nil, errors.Wrapf(err, "non-numeric output %s for entity %q", name, entity)
				}
				rows[idx][c] = f
			}
		}
		out.Arrays[entity] = rows
		out.OutputNames[entity] = names
	}
	return out, nil
}

func (m *Model) runNative(d *data.Data) (*RunResult, error) {
	driver, err := native.NewDriver(m.cfg.Native)
	if err != nil {
		return nil, err
	}
	build, err := driver.Build(m.ir, m.scalars)
	if err != nil {
		return nil, err
	}

	out := &RunResult{
		Arrays:      map[string][][]float64{},
		OutputNames: map[string][]string{},
		Scalars:     m.scalars,
	}
	for entity, prog := range build.Programs {
		inRows := d.Rows(entity)
		matrix := make([][]float64, len(inRows))
		for idx, row := range inRows {
			enc := make([]float64, len(prog.Inputs))
			for c, field := range prog.Inputs {
				f, err := cast.ToFloat64E(row[field])
				if err != nil {
					return nil, errors.Wrapf(err, "entity %q field %q", entity, field)
				}
				enc[c] = f
			}
			matrix[idx] = enc
		}

		result, err := build.Run(entity, matrix)
		if err != nil {
			return nil, err
		}
		out.Arrays[entity] = result
		out.OutputNames[entity] = prog.Outputs
	}
	return out, nil
}

// Compare runs the model and reform over the same input and returns the
// comparison harness over the two runs. The executions share no state,
// so they run concurrently.
func (m *Model) Compare(reform *Model, input map[string][]schema.Row) (*compare.Result, error) {
	span := opentracing.StartSpan("racgo.compare")
	defer span.Finish()

	var wg sync.WaitGroup
	var base, ref *RunResult
	var errB, errR error
	wg.Add(2)
	go func() {
		defer wg.Done()
		base, errB = m.Run(input)
	}()
	go func() {
		defer wg.Done()
		ref, errR = reform.Run(input)
	}()
	wg.Wait()

	if errB != nil {
		return nil, errors.Wrap(errB, "baseline run")
	}
	if errR != nil {
		return nil, errors.Wrap(errR, "reform run")
	}
	return compare.New(base.Columns(), ref.Columns()), nil
}
