// Package compare holds the reform-comparison harness: given the output
// columns of a baseline and a reform run over identical microdata, it
// yields per-row gain vectors, winner/loser counts, decile breakdowns
// over a caller-chosen income column, and below-threshold share deltas.
package compare

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// Columns is one run's outputs in columnar form: entity name to variable
// path to a per-row value column, index-aligned with the input table.
type Columns map[string]map[string][]float64

// Result pairs a baseline run with a reform run over the same input.
type Result struct {
	baseline Columns
	reform   Columns
}

// New builds a Result from two runs' columns. The runs must have been
// produced from the same Data snapshot; per-variable row counts are
// checked lazily when a gain vector is requested.
func New(baseline, reform Columns) *Result {
	return &Result{baseline: baseline, reform: reform}
}

func (r *Result) column(c Columns, entity, variable string) ([]float64, error) {
	vars, ok := c[entity]
	if !ok {
		return nil, errors.Errorf("no outputs for entity %q", entity)
	}
	col, ok := vars[variable]
	if !ok {
		return nil, errors.Errorf("no output column %q for entity %q", variable, entity)
	}
	return col, nil
}

// Gain returns the per-row reform − baseline vector for (entity,
// variable), index-aligned with the input rows.
func (r *Result) Gain(entity, variable string) ([]float64, error) {
	base, err := r.column(r.baseline, entity, variable)
	if err != nil {
		return nil, err
	}
	ref, err := r.column(r.reform, entity, variable)
	if err != nil {
		return nil, err
	}
	if len(base) != len(ref) {
		return nil, errors.Errorf("row count mismatch for %s/%s: baseline %d, reform %d", entity, variable, len(base), len(ref))
	}
	gain := make([]float64, len(base))
	for idx := range base {
		gain[idx] = ref[idx] - base[idx]
	}
	return gain, nil
}

// DecileStat is the mean gain within one income decile.
type DecileStat struct {
	Decile   int // 1 (lowest income) through 10
	Count    int
	MeanGain float64
}

// Summary aggregates a gain vector: winner/loser counts and totals, plus
// a decile breakdown when incomeCol names a baseline output column to
// rank rows by. An empty incomeCol skips the breakdown.
type Summary struct {
	Winners   int
	Losers    int
	Unchanged int
	TotalGain float64
	MeanGain  float64
	Deciles   []DecileStat
}

// Summarize computes the Summary for (entity, variable).
func (r *Result) Summarize(entity, variable, incomeCol string) (*Summary, error) {
	gain, err := r.Gain(entity, variable)
	if err != nil {
		return nil, err
	}

	s := &Summary{}
	for _, g := range gain {
		switch {
		case g > 0:
			s.Winners++
		case g < 0:
			s.Losers++
		default:
			s.Unchanged++
		}
		s.TotalGain += g
	}
	if len(gain) > 0 {
		s.MeanGain = s.TotalGain / float64(len(gain))
	}

	if incomeCol != "" {
		income, err := r.column(r.baseline, entity, incomeCol)
		if err != nil {
			return nil, err
		}
		if len(income) != len(gain) {
			return nil, errors.Errorf("income column %q has %d rows, want %d", incomeCol, len(income), len(gain))
		}
		s.Deciles = deciles(income, gain)
	}
	return s, nil
}

// deciles ranks rows by income and splits them into ten near-equal
// groups, lowest income first. Rows with equal income keep their input
// order, so the split is deterministic.
func deciles(income, gain []float64) []DecileStat {
	n := len(income)
	if n == 0 {
		return nil
	}
	order := make([]int, n)
	for idx := range order {
		order[idx] = idx
	}
	sort.SliceStable(order, func(a, b int) bool {
		return income[order[a]] < income[order[b]]
	})

	out := make([]DecileStat, 0, 10)
	for d := 0; d < 10; d++ {
		lo, hi := d*n/10, (d+1)*n/10
		if lo == hi {
			continue
		}
		stat := DecileStat{Decile: d + 1, Count: hi - lo}
		for _, idx := range order[lo:hi] {
			stat.MeanGain += gain[idx]
		}
		stat.MeanGain /= float64(stat.Count)
		out = append(out, stat)
	}
	return out
}

// BelowThreshold returns the share of rows whose (entity, variable)
// value falls strictly below threshold, under the baseline and under the
// reform. The delta between the two is a poverty-style headline number.
func (r *Result) BelowThreshold(entity, variable string, threshold float64) (baselineShare, reformShare float64, err error) {
	base, err := r.column(r.baseline, entity, variable)
	if err != nil {
		return 0, 0, err
	}
	ref, err := r.column(r.reform, entity, variable)
	if err != nil {
		return 0, 0, err
	}
	if len(base) == 0 {
		return 0, 0, nil
	}
	return shareBelow(base, threshold), shareBelow(ref, threshold), nil
}

func shareBelow(col []float64, threshold float64) float64 {
	count := 0
	for _, v := range col {
		if v < threshold {
			count++
		}
	}
	return float64(count) / float64(len(col))
}

// Diff renders a human-readable diff of an entity's baseline and reform
// columns, for debugging unexpected reform effects.
func (r *Result) Diff(entity string) string {
	return cmp.Diff(r.baseline[entity], r.reform[entity])
}
