// Package parser implements a pure recursive-descent parser over the
// racgo token stream, producing an *ast.Module. One production per
// construct; on a syntax error the parser raises immediately with the
// offending source position and does not attempt recovery.
package parser

import (
	"fmt"
	"strconv"

	"github.com/rules-as-code/racgo/ast"
	"github.com/rules-as-code/racgo/lexer"
	"github.com/rules-as-code/racgo/token"
)

// Error is a syntax error at a specific source position.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parser consumes a token stream and produces an *ast.Module.
type Parser struct {
	toks []token.Token
	pos  int
}

// Parse lexes and parses source into a Module. It is the single entry
// point callers use; compilation aborts on the first error.
func Parse(source string) (*ast.Module, error) {
	toks, err := lexer.All(source)
	if err != nil {
		if le, ok := err.(*lexer.Error); ok {
			return nil, &Error{le.Line, le.Col, le.Msg}
		}
		return nil, err
	}
	p := &Parser{toks: toks}
	return p.parseModule()
}

func (p *Parser) cur() token.Token { return p.toks[p.pos] }

func (p *Parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errf(format string, args ...interface{}) error {
	t := p.cur()
	return &Error{t.Line, t.Col, fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(kind token.Kind) (token.Token, error) {
	if p.cur().Kind != kind {
		return token.Token{}, p.errf("expected %s, got %s %q", kind, p.cur().Kind, p.cur().Literal)
	}
	return p.advance(), nil
}

func (p *Parser) parseModule() (*ast.Module, error) {
	mod := &ast.Module{}
	for p.cur().Kind != token.EOF {
		switch p.cur().Kind {
		case token.ENTITY:
			e, err := p.parseEntity()
			if err != nil {
				return nil, err
			}
			mod.Entities = append(mod.Entities, *e)
		case token.VARIABLE:
			v, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			mod.Variables = append(mod.Variables, *v)
		case token.AMEND:
			a, err := p.parseAmendment()
			if err != nil {
				return nil, err
			}
			mod.Amendments = append(mod.Amendments, *a)
		default:
			return nil, p.errf("expected entity, variable, or amend declaration, got %s %q", p.cur().Kind, p.cur().Literal)
		}
	}
	return mod, nil
}

// entity NAME(field, field, ...)
func (p *Parser) parseEntity() (*ast.Entity, error) {
	if _, err := p.expect(token.ENTITY); err != nil {
		return nil, err
	}
	name, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}

	e := &ast.Entity{Name: name.Literal, PrimaryKey: "id"}
	for p.cur().Kind != token.RPAREN {
		if err := p.parseFieldSpec(e); err != nil {
			return nil, err
		}
		if p.cur().Kind == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Parser) parseFieldSpec(e *ast.Entity) error {
	name, err := p.expect(token.IDENT)
	if err != nil {
		return err
	}

	switch p.cur().Kind {
	case token.ARROW_THIN: // foreign key: name -> target
		p.advance()
		target, err := p.expect(token.IDENT)
		if err != nil {
			return err
		}
		e.ForeignKeys = append(e.ForeignKeys, ast.ForeignKey{Field: name.Literal, Target: target.Literal})
		return nil
	case token.COLON:
		p.advance()
		if p.cur().Kind == token.LBRACKET { // one-to-many: name: [target]
			p.advance()
			target, err := p.expect(token.IDENT)
			if err != nil {
				return err
			}
			if _, err := p.expect(token.RBRACKET); err != nil {
				return err
			}
			e.OneToMany = append(e.OneToMany, ast.OneToMany{Name: name.Literal, Target: target.Literal})
			return nil
		}
		typTok, err := p.expect(token.IDENT)
		if err != nil {
			return err
		}
		ft, err := fieldTypeFromIdent(typTok.Literal)
		if err != nil {
			return p.errf("%s", err)
		}
		field := ast.Field{Name: name.Literal, Type: ft}
		if p.cur().Kind == token.ASSIGN { // declared default: name: type = expr
			p.advance()
			def, err := p.parseExpr()
			if err != nil {
				return err
			}
			field.Default = def
		}
		e.Fields = append(e.Fields, field)
		return nil
	default:
		return p.errf("expected ':' or '->' after field name %q", name.Literal)
	}
}

func fieldTypeFromIdent(s string) (ast.FieldType, error) {
	switch s {
	case "int":
		return ast.TypeInt, nil
	case "float":
		return ast.TypeFloat, nil
	case "str":
		return ast.TypeStr, nil
	case "bool":
		return ast.TypeBool, nil
	case "date":
		return ast.TypeDate, nil
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// variable <path>: [entity: NAME] (from DATE [to DATE]: expr)+
func (p *Parser) parseVariable() (*ast.Variable, error) {
	if _, err := p.expect(token.VARIABLE); err != nil {
		return nil, err
	}
	path, err := p.expectPath()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}

	v := &ast.Variable{Path: path}
	if p.cur().Kind == token.ENTITY {
		p.advance()
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		name, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		v.Entity = name.Literal
	}

	values, err := p.parseTemporalValues()
	if err != nil {
		return nil, err
	}
	v.Values = values
	return v, nil
}

// amend <path>: (from DATE [to DATE]: expr)+
func (p *Parser) parseAmendment() (*ast.Amendment, error) {
	if _, err := p.expect(token.AMEND); err != nil {
		return nil, err
	}
	path, err := p.expectPath()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}
	values, err := p.parseTemporalValues()
	if err != nil {
		return nil, err
	}
	return &ast.Amendment{Path: path, Values: values}, nil
}

func (p *Parser) expectPath() (string, error) {
	if p.cur().Kind == token.PATH || p.cur().Kind == token.IDENT {
		return p.advance().Literal, nil
	}
	return "", p.errf("expected a path, got %s %q", p.cur().Kind, p.cur().Literal)
}

func (p *Parser) parseTemporalValues() ([]ast.TemporalValue, error) {
	var values []ast.TemporalValue
	for p.cur().Kind == token.FROM {
		p.advance()
		start, err := p.expect(token.DATE)
		if err != nil {
			return nil, err
		}
		tv := ast.TemporalValue{Start: start.Literal}
		if p.cur().Kind == token.TO {
			p.advance()
			end, err := p.expect(token.DATE)
			if err != nil {
				return nil, err
			}
			tv.End = end.Literal
		}
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		tv.Expression = expr
		values = append(values, tv)
	}
	if len(values) == 0 {
		return nil, p.errf("expected at least one 'from' temporal value")
	}
	return values, nil
}

// Expression grammar, floor to ceiling:
// or -> and -> comparison -> additive -> multiplicative -> unary -> postfix -> primary

func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.OR {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.BinOp{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.AND {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = ast.BinOp{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

var comparisonOps = map[token.Kind]string{
	token.LT: "<", token.LE: "<=", token.GT: ">", token.GE: ">=",
	token.EQ: "==", token.NE: "!=",
}

func (p *Parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := comparisonOps[p.cur().Kind]
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = ast.BinOp{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.PLUS || p.cur().Kind == token.MINUS {
		op := "+"
		if p.cur().Kind == token.MINUS {
			op = "-"
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == token.STAR || p.cur().Kind == token.SLASH {
		op := "*"
		if p.cur().Kind == token.SLASH {
			op = "/"
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.BinOp{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.cur().Kind == token.MINUS {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.UnaryOp{Op: "-", Operand: operand}, nil
	}
	if p.cur().Kind == token.NOT {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.UnaryOp{Op: "not", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	afterDot := false
	for p.cur().Kind == token.DOT {
		p.advance()
		field, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		expr = ast.FieldAccess{Obj: expr, Field: field.Literal}
		afterDot = true
	}
	if afterDot && p.cur().Kind == token.LPAREN {
		return nil, p.errf("function calls require a bare-name callee; 'foo.bar(...)' is not allowed")
	}
	return expr, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	t := p.cur()
	switch t.Kind {
	case token.INT:
		p.advance()
		n, _ := strconv.ParseInt(t.Literal, 10, 64)
		return ast.Literal{Value: n}, nil
	case token.FLOAT:
		p.advance()
		f, _ := strconv.ParseFloat(t.Literal, 64)
		return ast.Literal{Value: f}, nil
	case token.STRING:
		p.advance()
		return ast.Literal{Value: t.Literal}, nil
	case token.DATE:
		p.advance()
		return ast.Literal{Value: t.Literal}, nil
	case token.TRUE:
		p.advance()
		return ast.Literal{Value: true}, nil
	case token.FALSE:
		p.advance()
		return ast.Literal{Value: false}, nil
	case token.PATH:
		p.advance()
		return ast.Var{Path: t.Literal}, nil
	case token.IDENT:
		p.advance()
		if p.cur().Kind == token.LPAREN {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return ast.Call{Name: t.Literal, Args: args}, nil
		}
		return ast.Var{Path: t.Literal}, nil
	case token.LPAREN:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	case token.IF:
		return p.parseCond()
	case token.MATCH:
		return p.parseMatch()
	}
	return nil, p.errf("unexpected token %s %q in expression", t.Kind, t.Literal)
}

func (p *Parser) parseArgs() ([]ast.Expr, error) {
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	var args []ast.Expr
	for p.cur().Kind != token.RPAREN {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur().Kind == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

// if cond : then else : else
func (p *Parser) parseCond() (ast.Expr, error) {
	if _, err := p.expect(token.IF); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}
	thenExpr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.ELSE); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}
	elseExpr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return ast.Cond{Condition: cond, Then: thenExpr, Else: elseExpr}, nil
}

// match subject : pattern => result (, pattern => result)* (, else => default)?
func (p *Parser) parseMatch() (ast.Expr, error) {
	if _, err := p.expect(token.MATCH); err != nil {
		return nil, err
	}
	subject, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.COLON); err != nil {
		return nil, err
	}

	m := ast.Match{Subject: subject}
	for {
		if p.cur().Kind == token.ELSE {
			p.advance()
			if _, err := p.expect(token.ARROW_FAT); err != nil {
				return nil, err
			}
			def, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			m.Default = def
		} else {
			pattern, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.ARROW_FAT); err != nil {
				return nil, err
			}
			result, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			m.Cases = append(m.Cases, ast.MatchCase{Pattern: pattern, Result: result})
		}

		if p.cur().Kind == token.COMMA {
			p.advance()
			continue
		}
		break
	}
	if len(m.Cases) == 0 {
		return nil, p.errf("match requires at least one case")
	}
	return m, nil
}
