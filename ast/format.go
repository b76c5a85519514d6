package ast

import (
	"fmt"
	"strings"
)

// Format renders an expression as a stable, parenthesized string. The
// rendering is deterministic for a given tree, which makes it usable as
// the serialized form behind the native build cache's content address as
// well as for diagnostics.
func Format(e Expr) string {
	var b strings.Builder
	format(&b, e)
	return b.String()
}

func format(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case Literal:
		switch v := n.Value.(type) {
		case string:
			fmt.Fprintf(b, "%q", v)
		default:
			fmt.Fprintf(b, "%v", v)
		}
	case Var:
		b.WriteString(n.Path)
	case BinOp:
		b.WriteString("(")
		format(b, n.Left)
		b.WriteString(" " + n.Op + " ")
		format(b, n.Right)
		b.WriteString(")")
	case UnaryOp:
		b.WriteString("(" + n.Op + " ")
		format(b, n.Operand)
		b.WriteString(")")
	case Call:
		b.WriteString(n.Name + "(")
		for idx, a := range n.Args {
			if idx > 0 {
				b.WriteString(", ")
			}
			format(b, a)
		}
		b.WriteString(")")
	case FieldAccess:
		format(b, n.Obj)
		b.WriteString("." + n.Field)
	case Cond:
		b.WriteString("(if ")
		format(b, n.Condition)
		b.WriteString(": ")
		format(b, n.Then)
		b.WriteString(" else: ")
		format(b, n.Else)
		b.WriteString(")")
	case Match:
		b.WriteString("(match ")
		format(b, n.Subject)
		b.WriteString(":")
		for _, c := range n.Cases {
			b.WriteString(" ")
			format(b, c.Pattern)
			b.WriteString(" => ")
			format(b, c.Result)
			b.WriteString(",")
		}
		if n.Default != nil {
			b.WriteString(" else => ")
			format(b, n.Default)
		}
		b.WriteString(")")
	default:
		fmt.Fprintf(b, "<%T>", e)
	}
}
