// Package lexer turns racgo source text into a token stream.
package lexer

import (
	"fmt"
	"strings"

	"github.com/rules-as-code/racgo/token"
)

// Lexer scans UTF-8 source text into tokens, tracking line/column position
// for error reporting. Whitespace is insignificant but tracked; '#' to
// end-of-line comments are discarded.
type Lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

// New returns a Lexer positioned at the start of src.
func New(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1, col: 1}
}

// Error reports a lexical failure at a specific source position.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekAt(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *Lexer) advance() rune {
	r := l.peek()
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentChar(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\n'
}

// Next scans and returns the next token. It returns a token.EOF token once
// the source is exhausted. A lexical failure is returned as *Error.
func (l *Lexer) Next() (token.Token, error) {
	l.skipWhitespaceAndComments()

	line, col := l.line, l.col
	if l.pos >= len(l.src) {
		return token.Token{Kind: token.EOF, Line: line, Col: col}, nil
	}

	r := l.peek()
	switch {
	case isIdentStart(r):
		return l.scanIdentOrPath(line, col)
	case isDigit(r):
		return l.scanNumberOrDate(line, col)
	case r == '"' || r == '\'':
		return l.scanString(line, col)
	}

	return l.scanOperator(line, col)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.src) {
		r := l.peek()
		if isSpace(r) {
			l.advance()
			continue
		}
		if r == '#' {
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

func (l *Lexer) scanIdentOrPath(line, col int) (token.Token, error) {
	var b strings.Builder
	for l.pos < len(l.src) && isIdentChar(l.peek()) {
		b.WriteRune(l.advance())
	}

	isPath := false
	for l.peek() == '/' && isIdentStart(l.peekAt(1)) {
		isPath = true
		b.WriteRune(l.advance()) // '/'
		for l.pos < len(l.src) && isIdentChar(l.peek()) {
			b.WriteRune(l.advance())
		}
	}

	lit := b.String()
	if isPath {
		return token.Token{Kind: token.PATH, Literal: lit, Line: line, Col: col}, nil
	}
	return token.Token{Kind: token.Lookup(lit), Literal: lit, Line: line, Col: col}, nil
}

func (l *Lexer) scanNumberOrDate(line, col int) (token.Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.peek()) {
		l.advance()
	}

	// ISO date: YYYY-MM-DD (exactly 4 digits, '-', 2 digits, '-', 2 digits).
	if l.pos-start == 4 && l.peek() == '-' && isDigit(l.peekAt(1)) && isDigit(l.peekAt(2)) &&
		l.peekAt(3) == '-' && isDigit(l.peekAt(4)) && isDigit(l.peekAt(5)) {
		l.advance() // -
		l.advance()
		l.advance()
		l.advance() // -
		l.advance()
		l.advance()
		return token.Token{Kind: token.DATE, Literal: string(l.src[start:l.pos]), Line: line, Col: col}, nil
	}

	isFloat := false
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true
		l.advance()
		for l.pos < len(l.src) && isDigit(l.peek()) {
			l.advance()
		}
	}

	kind := token.INT
	if isFloat {
		kind = token.FLOAT
	}
	return token.Token{Kind: kind, Literal: string(l.src[start:l.pos]), Line: line, Col: col}, nil
}

func (l *Lexer) scanString(line, col int) (token.Token, error) {
	quote := l.advance()
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token.Token{}, &Error{line, col, "unterminated string literal"}
		}
		r := l.peek()
		if r == quote {
			l.advance()
			break
		}
		b.WriteRune(l.advance())
	}
	return token.Token{Kind: token.STRING, Literal: b.String(), Line: line, Col: col}, nil
}

func (l *Lexer) scanOperator(line, col int) (token.Token, error) {
	r := l.advance()
	two := func(next rune, kind token.Kind) (token.Token, bool) {
		if l.peek() == next {
			l.advance()
			return token.Token{Kind: kind, Literal: string(r) + string(next), Line: line, Col: col}, true
		}
		return token.Token{}, false
	}

	switch r {
	case ':':
		return token.Token{Kind: token.COLON, Literal: ":", Line: line, Col: col}, nil
	case ',':
		return token.Token{Kind: token.COMMA, Literal: ",", Line: line, Col: col}, nil
	case '.':
		return token.Token{Kind: token.DOT, Literal: ".", Line: line, Col: col}, nil
	case '(':
		return token.Token{Kind: token.LPAREN, Literal: "(", Line: line, Col: col}, nil
	case ')':
		return token.Token{Kind: token.RPAREN, Literal: ")", Line: line, Col: col}, nil
	case '[':
		return token.Token{Kind: token.LBRACKET, Literal: "[", Line: line, Col: col}, nil
	case ']':
		return token.Token{Kind: token.RBRACKET, Literal: "]", Line: line, Col: col}, nil
	case '+':
		return token.Token{Kind: token.PLUS, Literal: "+", Line: line, Col: col}, nil
	case '*':
		return token.Token{Kind: token.STAR, Literal: "*", Line: line, Col: col}, nil
	case '/':
		return token.Token{Kind: token.SLASH, Literal: "/", Line: line, Col: col}, nil
	case '=':
		if tok, ok := two('=', token.EQ); ok {
			return tok, nil
		}
		if tok, ok := two('>', token.ARROW_FAT); ok {
			return tok, nil
		}
		return token.Token{Kind: token.ASSIGN, Literal: "=", Line: line, Col: col}, nil
	case '!':
		if tok, ok := two('=', token.NE); ok {
			return tok, nil
		}
		return token.Token{}, &Error{line, col, "unexpected character '!'"}
	case '<':
		if tok, ok := two('=', token.LE); ok {
			return tok, nil
		}
		return token.Token{Kind: token.LT, Literal: "<", Line: line, Col: col}, nil
	case '>':
		if tok, ok := two('=', token.GE); ok {
			return tok, nil
		}
		return token.Token{Kind: token.GT, Literal: ">", Line: line, Col: col}, nil
	case '-':
		if tok, ok := two('>', token.ARROW_THIN); ok {
			return tok, nil
		}
		return token.Token{Kind: token.MINUS, Literal: "-", Line: line, Col: col}, nil
	}

	return token.Token{}, &Error{line, col, fmt.Sprintf("unexpected character %q", r)}
}

// All scans the entire source and returns the full token slice (including
// the trailing EOF token), or the first lexical error encountered.
func All(src string) ([]token.Token, error) {
	l := New(src)
	var toks []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks, nil
		}
	}
}
