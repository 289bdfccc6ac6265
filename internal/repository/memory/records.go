// Package memory contains in-process implementations of repository
// interfaces, used when no database is configured and in tests.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/google/btree"
)

const degree = 16

// recordItem orders records by ID. UUIDv7 IDs sort by creation time.
type recordItem struct {
	rec model.Record
}

func (a recordItem) Less(b btree.Item) bool {
	o := b.(recordItem)
	return bytes.Compare(a.rec.ID[:], o.rec.ID[:]) < 0
}

// tagItem is one entry of the usecase index, ordered by (usecase, id).
type tagItem struct {
	usecase string
	id      uuid.UUID
}

func (a tagItem) Less(b btree.Item) bool {
	o := b.(tagItem)
	if a.usecase != o.usecase {
		return a.usecase < o.usecase
	}
	return bytes.Compare(a.id[:], o.id[:]) < 0
}

// RecordStore implements RecordRepository with two B-trees: records by ID and
// a usecase index. Stored values are copied on the way in and out.
type RecordStore struct {
	mu    sync.RWMutex
	byID  *btree.BTree
	byTag *btree.BTree
}

// NewRecordStore constructs an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{byID: btree.New(degree), byTag: btree.New(degree)}
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID.Len()
}

// Put stores a copy of rec.
func (s *RecordStore) Put(ctx context.Context, rec model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byID.Has(recordItem{rec: model.Record{ID: rec.ID}}) {
		return errs.ErrAlreadyExists
	}
	rec = rec.Clone()
	s.byID.ReplaceOrInsert(recordItem{rec: rec})
	s.index(rec)
	return nil
}

// Find walks the usecase index and filters by collection.
func (s *RecordStore) Find(ctx context.Context, collection, usecase string) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Record
	s.byTag.AscendGreaterOrEqual(tagItem{usecase: usecase}, func(i btree.Item) bool {
		t := i.(tagItem)
		if t.usecase != usecase {
			return false
		}
		it := s.byID.Get(recordItem{rec: model.Record{ID: t.id}})
		if it == nil {
			return true
		}
		rec := it.(recordItem).rec
		if rec.Matches(collection, usecase) {
			out = append(out, rec.Clone())
		}
		return true
	})
	return out, nil
}

// Update replaces the mutable parts of a stored record.
func (s *RecordStore) Update(ctx context.Context, id uuid.UUID, p model.RecordPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.byID.Get(recordItem{rec: model.Record{ID: id}})
	if it == nil {
		return errs.ErrNotFound
	}
	rec := it.(recordItem).rec
	s.unindex(rec)
	rec.Data, rec.ACL, rec.Usecases = p.Data, p.ACL, p.Usecases
	rec = rec.Clone()
	s.byID.ReplaceOrInsert(recordItem{rec: rec})
	s.index(rec)
	return nil
}

// Delete removes a record.
func (s *RecordStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.byID.Delete(recordItem{rec: model.Record{ID: id}})
	if it == nil {
		return errs.ErrNotFound
	}
	s.unindex(it.(recordItem).rec)
	return nil
}

func (s *RecordStore) index(rec model.Record) {
	for _, u := range rec.Usecases {
		s.byTag.ReplaceOrInsert(tagItem{usecase: u, id: rec.ID})
	}
}

func (s *RecordStore) unindex(rec model.Record) {
	for _, u := range rec.Usecases {
		s.byTag.Delete(tagItem{usecase: u, id: rec.ID})
	}
}
