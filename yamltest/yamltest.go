// Package yamltest parses the YAML test-case format external harnesses
// feed the engine with: a top-level map from variable path to a list of
// cases, each naming a period, a set of inputs, and an expected value.
// The runner loop that drives cases through a compiled model lives with
// the harness, not here; this package owns the format and its matching
// rules.
package yamltest

import (
	"math"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Case is one test case for a variable.
type Case struct {
	Name   string                 `yaml:"name"`
	Period string                 `yaml:"period"`
	Inputs map[string]interface{} `yaml:"inputs"`
	Expect interface{}            `yaml:"expect"`
}

// Suite maps a variable path to its cases.
type Suite map[string][]Case

// Load parses a YAML test file.
func Load(src []byte) (Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(src, &s); err != nil {
		return nil, errors.Wrap(err, "parsing test file")
	}
	return s, nil
}

// AsOf resolves the case's period to a compilation date. A year-month
// period resolves to the first of the month.
func (c Case) AsOf() (time.Time, error) {
	if t, err := time.Parse("2006-01-02", c.Period); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01", c.Period); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Errorf("case %q: cannot parse period %q", c.Name, c.Period)
}

// Matches reports whether got satisfies the case's expectation: numeric
// values compare within the absolute tolerance tol, booleans and strings
// require exact equality.
func Matches(expect, got interface{}, tol float64) bool {
	if eb, ok := expect.(bool); ok {
		gb, ok := got.(bool)
		return ok && eb == gb
	}
	ef, eok := asFloat(expect)
	gf, gok := asFloat(got)
	if eok && gok {
		return math.Abs(ef-gf) <= tol
	}
	es, sok := expect.(string)
	gs, gok2 := got.(string)
	return sok && gok2 && es == gs
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
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
