package query

import (
	"fmt"
	"strings"
	"unicode"
)

// Parse reads the textual form produced by String:
//
//	users:filter
//	:logging                        (any collection)
//	or(users:filter, products:filter)
//	and(orders:filter, or(a:x, b:y))
//
// Names may not contain whitespace, ',', ':', '(' or ')'.
func Parse(s string) (Query, error) {
	p := &parser{in: s}
	q, err := p.expr(1)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.in) {
		return nil, p.errorf("unexpected %q", p.in[p.pos:])
	}
	return q, nil
}

type parser struct {
	in  string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", ErrInvalidQuery, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.in) && unicode.IsSpace(rune(p.in[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.in) {
		return p.in[p.pos]
	}
	return 0
}

func isNameByte(c byte) bool {
	return c != 0 && !strings.ContainsRune(",:() \t\r\n", rune(c))
}

func (p *parser) name() string {
	start := p.pos
	for p.pos < len(p.in) && isNameByte(p.in[p.pos]) {
		p.pos++
	}
	return p.in[start:p.pos]
}

func (p *parser) expr(depth int) (Query, error) {
	if depth > MaxDepth {
		return nil, p.errorf("deeper than %d levels", MaxDepth)
	}
	p.skipSpace()
	word := p.name()
	p.skipSpace()

	switch p.peek() {
	case ':':
		p.pos++
		return Single{Collection: word, Usecase: p.name()}, nil
	case '(':
		var t Type
		switch strings.ToLower(word) {
		case "and":
			t = And
		case "or":
			t = Or
		default:
			return nil, p.errorf("unknown operator %q", word)
		}
		p.pos++
		c := Compound{Type: t}
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			return c, nil
		}
		for {
			child, err := p.expr(depth + 1)
			if err != nil {
				return nil, err
			}
			c.Queries = append(c.Queries, child)
			p.skipSpace()
			switch p.peek() {
			case ',':
				p.pos++
			case ')':
				p.pos++
				return c, nil
			default:
				return nil, p.errorf("expected ',' or ')'")
			}
		}
	default:
		return nil, p.errorf("expected ':' or '(' after %q", word)
	}
}
