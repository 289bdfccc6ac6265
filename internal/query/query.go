// Package query models boolean queries over collection/usecase predicates
// and evaluates them against a record store.
//
// A query is a tree: Single leaves combined by Compound nodes. Compound
// children are held as interface values, so trees of any depth are
// represented without recursive value types.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// MaxDepth bounds the nesting of a query tree accepted from the wire.
const MaxDepth = 32

// ErrInvalidQuery reports a structurally invalid tree.
var ErrInvalidQuery = errors.New("invalid query")

// Query is a node of a query tree. It is sealed: only Single and Compound
// (as values) implement it, which keeps type switches exhaustive.
type Query interface {
	isQuery()
	String() string
}

// Type is the boolean operator of a Compound node.
type Type uint8

// Compound operators. The zero value is invalid.
const (
	And Type = iota + 1
	Or
)

func (t Type) String() string {
	switch t {
	case And:
		return "and"
	case Or:
		return "or"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Valid reports whether t is a known operator.
func (t Type) Valid() bool { return t == And || t == Or }

// Single matches records whose collection equals Collection (any collection
// when empty) and whose usecases contain Usecase.
type Single struct {
	Collection string
	Usecase    string
}

func (Single) isQuery() {}

func (s Single) String() string { return s.Collection + ":" + s.Usecase }

// Compound combines child queries with And (intersection) or Or (union).
// Children are evaluated left to right; their order also fixes the order of
// results.
type Compound struct {
	Type    Type
	Queries []Query
}

func (Compound) isQuery() {}

func (c Compound) String() string {
	parts := make([]string, len(c.Queries))
	for i, q := range c.Queries {
		if q == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = q.String()
	}
	return c.Type.String() + "(" + strings.Join(parts, ", ") + ")"
}

// AllOf is shorthand for Compound{Type: And, Queries: qs}.
func AllOf(qs ...Query) Compound { return Compound{Type: And, Queries: qs} }

// AnyOf is shorthand for Compound{Type: Or, Queries: qs}.
func AnyOf(qs ...Query) Compound { return Compound{Type: Or, Queries: qs} }

// Validate checks operators, nil children and depth.
func Validate(q Query) error {
	return validate(q, 1)
}

func validate(q Query, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: deeper than %d levels", ErrInvalidQuery, MaxDepth)
	}
	switch q := q.(type) {
	case Single:
		return nil
	case Compound:
		if !q.Type.Valid() {
			return fmt.Errorf("%w: unknown operator %d", ErrInvalidQuery, uint8(q.Type))
		}
		for i, child := range q.Queries {
			if child == nil {
				return fmt.Errorf("%w: nil child at %d", ErrInvalidQuery, i)
			}
			if err := validate(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported node %T", ErrInvalidQuery, q)
	}
}
