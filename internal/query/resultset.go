package query

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sealdb/internal/model"
)

// resultSet is an insertion-ordered set of records keyed by ID.
type resultSet struct {
	order []uuid.UUID
	byID  map[uuid.UUID]model.Record
}

func newResultSet(capacity int) *resultSet {
	return &resultSet{
		order: make([]uuid.UUID, 0, capacity),
		byID:  make(map[uuid.UUID]model.Record, capacity),
	}
}

func (s *resultSet) len() int { return len(s.order) }

func (s *resultSet) has(id uuid.UUID) bool {
	_, ok := s.byID[id]
	return ok
}

// add inserts r unless a record with the same ID is present.
func (s *resultSet) add(r model.Record) bool {
	if s.has(r.ID) {
		return false
	}
	s.order = append(s.order, r.ID)
	s.byID[r.ID] = r
	return true
}

func (s *resultSet) union(other *resultSet) {
	for _, id := range other.order {
		s.add(other.byID[id])
	}
}

// intersect keeps the records of s also present in other, in s's order.
func (s *resultSet) intersect(other *resultSet) *resultSet {
	out := newResultSet(min(s.len(), other.len()))
	for _, id := range s.order {
		if other.has(id) {
			out.add(s.byID[id])
		}
	}
	return out
}

func (s *resultSet) records() []model.Record {
	out := make([]model.Record, len(s.order))
	for i, id := range s.order {
		out[i] = s.byID[id]
	}
	return out
}
