// Package codegen lowers a compiled IR into a self-contained Go program
// implementing the same evaluation contract as the interp package:
// generation emits a Scalars constructor, a per-entity Input/Output
// record pair, a straight-line compute function in IR order, and a main
// that speaks the length-prefixed binary wire protocol over an entity's
// rows. The emitted program is built and run as a subprocess by the
// native package; the binary file protocol is its only interface.
//
// Only numeric-representable fields (int, float, bool) participate in
// the wire format. Formulas over str or date columns, reverse-relation
// aggregation, and list broadcast stay on the interpreter.
package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/ir"
	"github.com/rules-as-code/racgo/schema"
)

// Program is the generated Go source for one entity's compute binary.
type Program struct {
	Entity  string
	Source  string
	Inputs  []string // input field names, wire order
	Outputs []string // output path names, wire order (IR order)
}

// Generate emits the Go source for entity's compute binary. scalars
// holds the already-evaluated scalar values, baked into the generated
// source as literal constants; scalar values never depend on any entity
// table, so evaluating them ahead of generation is safe.
func Generate(i *ir.IR, entity string, scalars map[string]interface{}) (*Program, error) {
	ent, ok := i.Schema.Entities[entity]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}

	inputs := numericColumns(ent)
	outputs := i.EntityVars(entity)

	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated by racgo/codegen. DO NOT EDIT.\n")
	fmt.Fprintf(&b, "package main\n\n")
	fmt.Fprintf(&b, "import (\n\t\"encoding/binary\"\n\t\"math\"\n\t\"os\"\n\t\"runtime\"\n\t\"sync\"\n)\n\n")
	fmt.Fprintf(&b, "var _ = math.Abs // not every compute body reaches for math\n\n")

	emitScalars(&b, scalars)
	emitInput(&b, inputs)
	emitOutput(&b, outputs)
	emitCodecs(&b, inputs, outputs)
	if err := emitCompute(&b, i, ent, inputs, outputs); err != nil {
		return nil, err
	}
	emitMain(&b, len(inputs))

	return &Program{Entity: entity, Source: b.String(), Inputs: inputs, Outputs: outputs}, nil
}

func numericColumns(ent *schema.Entity) []string {
	var names []string
	for _, c := range ent.Columns {
		if c.Type == ast.TypeInt || c.Type == ast.TypeFloat || c.Type == ast.TypeBool {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

func emitScalars(b *strings.Builder, scalars map[string]interface{}) {
	fmt.Fprintf(b, "type Scalars struct {\n")
	var paths []string
	for p := range scalars {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(b, "\t%s float64\n", identSafe(p))
	}
	fmt.Fprintf(b, "}\n\n")

	fmt.Fprintf(b, "func newScalars() Scalars {\n\treturn Scalars{\n")
	for _, p := range paths {
		fmt.Fprintf(b, "\t\t%s: %s,\n", identSafe(p), floatLiteral(scalars[p]))
	}
	fmt.Fprintf(b, "\t}\n}\n\n")
}

func emitInput(b *strings.Builder, inputs []string) {
	fmt.Fprintf(b, "type Input struct {\n")
	for _, name := range inputs {
		fmt.Fprintf(b, "\t%s float64\n", identSafe(name))
	}
	fmt.Fprintf(b, "}\n\n")
}

func emitOutput(b *strings.Builder, outputs []string) {
	fmt.Fprintf(b, "type Output struct {\n")
	for _, path := range outputs {
		fmt.Fprintf(b, "\t%s float64\n", identSafe(path))
	}
	fmt.Fprintf(b, "}\n\n")
}

func emitCodecs(b *strings.Builder, inputs, outputs []string) {
	fmt.Fprintf(b, "func decodeInput(buf []float64) Input {\n\treturn Input{\n")
	for idx, name := range inputs {
		fmt.Fprintf(b, "\t\t%s: buf[%d],\n", identSafe(name), idx)
	}
	fmt.Fprintf(b, "\t}\n}\n\n")

	fmt.Fprintf(b, "func encodeOutput(o Output) []float64 {\n\treturn []float64{\n")
	for _, path := range outputs {
		fmt.Fprintf(b, "\t\to.%s,\n", identSafe(path))
	}
	fmt.Fprintf(b, "\t}\n}\n\n")
}

func emitCompute(b *strings.Builder, i *ir.IR, ent *schema.Entity, inputs, outputs []string) error {
	fmt.Fprintf(b, "func compute(in Input, sc Scalars) Output {\n\tvar out Output\n")
	for _, path := range outputs {
		rv := i.Variables[path]
		expr, err := lower(rv.Expr, ent, inputs, outputs)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(b, "\tout.%s = %s\n", identSafe(path), expr)
	}
	fmt.Fprintf(b, "\treturn out\n}\n\n")
	return nil
}

// lower preserves the interpreter's semantics exactly, including
// division-by-zero-returns-zero; boolean operators are lowered to Go's
// native short-circuit && / || since built-ins have no side effects and
// are therefore observably identical to the interpreter's eager
// evaluation.
func lower(e ast.Expr, ent *schema.Entity, inputs, outputs []string) (string, error) {
	switch n := e.(type) {
	case ast.Literal:
		return floatLiteral(n.Value), nil

	case ast.Var:
		// Entity-scoped paths are absolute too, so prior outputs are
		// checked before the scalar block.
		if contains(outputs, n.Path) {
			return "out." + identSafe(n.Path), nil
		}
		if n.IsAbsolute() {
			return "sc." + identSafe(n.Path), nil
		}
		if contains(inputs, n.Path) {
			return "in." + identSafe(n.Path), nil
		}
		return "", fmt.Errorf("undefined reference: %s", n.Path)

	case ast.BinOp:
		l, err := lower(n.Left, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		r, err := lower(n.Right, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		switch n.Op {
		case "/":
			return fmt.Sprintf("divOrZero(%s, %s)", l, r), nil
		case "and":
			return fmt.Sprintf("boolf(%s != 0 && %s != 0)", l, r), nil
		case "or":
			return fmt.Sprintf("boolf(%s != 0 || %s != 0)", l, r), nil
		case "==":
			return fmt.Sprintf("boolf(%s == %s)", l, r), nil
		case "!=":
			return fmt.Sprintf("boolf(%s != %s)", l, r), nil
		case "<", "<=", ">", ">=":
			return fmt.Sprintf("boolf(%s %s %s)", l, n.Op, r), nil
		default:
			return fmt.Sprintf("(%s %s %s)", l, n.Op, r), nil
		}

	case ast.UnaryOp:
		operand, err := lower(n.Operand, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		switch n.Op {
		case "-":
			return fmt.Sprintf("(-%s)", operand), nil
		case "not":
			return fmt.Sprintf("boolf(%s == 0)", operand), nil
		}

	case ast.Call:
		return lowerCall(n, ent, inputs, outputs)

	case ast.Cond:
		cond, err := lower(n.Condition, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		then, err := lower(n.Then, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		els, err := lower(n.Else, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("condf(%s, %s, %s)", cond, then, els), nil

	case ast.Match:
		return lowerMatch(n, ent, inputs, outputs)
	}

	return "", fmt.Errorf("unsupported expression node %T in native backend", e)
}

func lowerCall(n ast.Call, ent *schema.Entity, inputs, outputs []string) (string, error) {
	args := make([]string, len(n.Args))
	for idx, a := range n.Args {
		lowered, err := lower(a, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		args[idx] = lowered
	}
	switch n.Name {
	case "min":
		return wrapReduce("math.Min", args), nil
	case "max":
		return wrapReduce("math.Max", args), nil
	case "abs":
		return fmt.Sprintf("math.Abs(%s)", args[0]), nil
	case "round":
		return fmt.Sprintf("math.Round(%s)", args[0]), nil
	case "clip":
		return fmt.Sprintf("math.Max(%s, math.Min(%s, %s))", args[1], args[2], args[0]), nil
	}
	return "", fmt.Errorf("built-in %q is not supported by the native backend (no reverse-relation broadcast at this layer)", n.Name)
}

// lowerMatch unrolls a match into a condf chain comparing the subject
// against each pattern in order. Expressions are pure, so re-evaluating
// the subject per arm is observably identical to evaluating it once. A
// match with no default cannot express its non-exhaustive runtime error
// in straight-line float code, so it is rejected here.
func lowerMatch(n ast.Match, ent *schema.Entity, inputs, outputs []string) (string, error) {
	if n.Default == nil {
		return "", fmt.Errorf("match without a default case is not supported by the native backend")
	}
	subject, err := lower(n.Subject, ent, inputs, outputs)
	if err != nil {
		return "", err
	}
	expr, err := lower(n.Default, ent, inputs, outputs)
	if err != nil {
		return "", err
	}
	for idx := len(n.Cases) - 1; idx >= 0; idx-- {
		pattern, err := lower(n.Cases[idx].Pattern, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		result, err := lower(n.Cases[idx].Result, ent, inputs, outputs)
		if err != nil {
			return "", err
		}
		expr = fmt.Sprintf("condf(boolf(%s == %s), %s, %s)", subject, pattern, result, expr)
	}
	return expr, nil
}

func wrapReduce(fn string, args []string) string {
	acc := args[0]
	for _, a := range args[1:] {
		acc = fmt.Sprintf("%s(%s, %s)", fn, acc, a)
	}
	return acc
}

func emitMain(b *strings.Builder, nIn int) {
	fmt.Fprintf(b, `func divOrZero(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func condf(cond, then, els float64) float64 {
	if cond != 0 {
		return then
	}
	return els
}

func readInputs(path string) ([]Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var n uint64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	rows := make([]Input, n)
	buf := make([]float64, %d)
	for i := range rows {
		if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		rows[i] = decodeInput(buf)
	}
	return rows, nil
}

func writeOutputs(path string, rows []Output) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint64(len(rows))); err != nil {
		return err
	}
	for _, row := range rows {
		if err := binary.Write(f, binary.LittleEndian, encodeOutput(row)); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if len(os.Args) != 4 {
		os.Exit(2)
	}
	inPath, outPath := os.Args[2], os.Args[3]

	inputs, err := readInputs(inPath)
	if err != nil {
		panic(err)
	}

	sc := newScalars()
	outputs := make([]Output, len(inputs))

	// Row-level data parallelism: no output row depends on any other, so
	// chunks are mapped across available cores with no synchronization
	// beyond the final join.
	workers := runtime.GOMAXPROCS(0)
	if workers > len(inputs) {
		workers = len(inputs)
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (len(inputs) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if start >= len(inputs) {
			break
		}
		if end > len(inputs) {
			end = len(inputs)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for idx := start; idx < end; idx++ {
				outputs[idx] = compute(inputs[idx], sc)
			}
		}(start, end)
	}
	wg.Wait()

	if err := writeOutputs(outPath, outputs); err != nil {
		panic(err)
	}
}
`, nIn)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func identSafe(path string) string {
	return strings.NewReplacer("/", "_", ".", "_").Replace(path)
}

func floatLiteral(v interface{}) string {
	switch n := v.(type) {
	case int64:
		return fmt.Sprintf("%d", n)
	case int:
		return fmt.Sprintf("%d", n)
	case float64:
		return fmt.Sprintf("%v", n)
	case bool:
		if n {
			return "1"
		}
		return "0"
	}
	return "0"
}
