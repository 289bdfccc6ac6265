package repository

import (
	"context"

	"github.com/and161185/sealdb/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RecordRepository stores records and answers collection/usecase lookups.
// Implementations must be safe for concurrent use.
type RecordRepository interface {
	// Put stores a new record. A duplicate ID yields errs.ErrAlreadyExists.
	Put(ctx context.Context, rec model.Record) error

	// Find returns the records tagged with usecase, restricted to collection
	// unless collection is empty, ordered by ID.
	Find(ctx context.Context, collection, usecase string) ([]model.Record, error)

	// Update replaces data, ACL and usecases of an existing record.
	Update(ctx context.Context, id uuid.UUID, patch model.RecordPatch) error

	// Delete removes a record.
	Delete(ctx context.Context, id uuid.UUID) error
}
