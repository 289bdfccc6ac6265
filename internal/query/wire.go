package query

import "fmt"

// Kind tags a Wire node.
type Kind uint8

// Wire node kinds.
const (
	KindSingle Kind = iota + 1
	KindCompound
)

// Wire is the serialized form of a query tree. It is a plain recursive
// struct so any self-describing codec can carry it.
type Wire struct {
	Kind       Kind   `cbor:"k"`
	Collection string `cbor:"c,omitempty"`
	Usecase    string `cbor:"u,omitempty"`
	Type       Type   `cbor:"t,omitempty"`
	Queries    []Wire `cbor:"q,omitempty"`
}

// ToWire converts a tree into its serialized form. q must be valid.
func ToWire(q Query) Wire {
	switch q := q.(type) {
	case Single:
		return Wire{Kind: KindSingle, Collection: q.Collection, Usecase: q.Usecase}
	case Compound:
		w := Wire{Kind: KindCompound, Type: q.Type}
		if len(q.Queries) > 0 {
			w.Queries = make([]Wire, len(q.Queries))
			for i, child := range q.Queries {
				w.Queries[i] = ToWire(child)
			}
		}
		return w
	default:
		return Wire{}
	}
}

// FromWire rebuilds and validates a tree.
func FromWire(w Wire) (Query, error) {
	return fromWire(w, 1)
}

func fromWire(w Wire, depth int) (Query, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: deeper than %d levels", ErrInvalidQuery, MaxDepth)
	}
	switch w.Kind {
	case KindSingle:
		if w.Type != 0 || len(w.Queries) != 0 {
			return nil, fmt.Errorf("%w: single node with children", ErrInvalidQuery)
		}
		return Single{Collection: w.Collection, Usecase: w.Usecase}, nil
	case KindCompound:
		if !w.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown operator %d", ErrInvalidQuery, uint8(w.Type))
		}
		c := Compound{Type: w.Type}
		if len(w.Queries) > 0 {
			c.Queries = make([]Query, len(w.Queries))
		}
		for i, child := range w.Queries {
			q, err := fromWire(child, depth+1)
			if err != nil {
				return nil, err
			}
			c.Queries[i] = q
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown node kind %d", ErrInvalidQuery, uint8(w.Kind))
	}
}
