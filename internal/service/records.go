package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/model"
	"github.com/and161185/sealdb/internal/repository"
)

// RecordService stores, replaces and removes records.
type RecordService interface {
	// Insert stores a new record and returns its identifier.
	Insert(ctx context.Context, collection string, data []byte, acl, usecases []string) (uuid.UUID, error)
	// Update replaces data, ACL and usecases of an existing record.
	Update(ctx context.Context, id uuid.UUID, data []byte, acl, usecases []string) error
	// Delete removes a record.
	Delete(ctx context.Context, id uuid.UUID) error
}

type RecordServiceImpl struct {
	repo repository.RecordRepository
	now  func() time.Time
}

// NewRecordService constructs RecordService over a record repository.
func NewRecordService(repo repository.RecordRepository) *RecordServiceImpl {
	return &RecordServiceImpl{repo: repo, now: time.Now}
}

// Insert assigns a fresh UUIDv7 and forwards the record to storage. Any
// collection name, including the empty default collection, is accepted.
func (s *RecordServiceImpl) Insert(ctx context.Context, collection string, data []byte, acl, usecases []string) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert: new id: %w", err)
	}
	rec := model.Record{
		ID:         id,
		Collection: collection,
		Data:       data,
		ACL:        acl,
		Usecases:   usecases,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.Put(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("insert %q: %w", collection, err)
	}
	return id, nil
}

// Update validates the id and delegates to storage.
func (s *RecordServiceImpl) Update(ctx context.Context, id uuid.UUID, data []byte, acl, usecases []string) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: empty id", errs.ErrInvalidArgument)
	}
	if err := s.repo.Update(ctx, id, model.RecordPatch{Data: data, ACL: acl, Usecases: usecases}); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	return nil
}

// Delete validates the id and delegates to storage.
func (s *RecordServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: empty id", errs.ErrInvalidArgument)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
