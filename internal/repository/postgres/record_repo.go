package postgres

import (
	"context"

	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RecordRepo implements RecordRepository using PostgreSQL.
type RecordRepo struct{ db *DB }

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo { return &RecordRepo{db: db} }

// Put inserts a record row.
func (r *RecordRepo) Put(ctx context.Context, rec model.Record) error {
	const q = `
INSERT INTO records (id, collection, data, acl, usecases, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, rec.ID, rec.Collection, rec.Data, nonNil(rec.ACL), nonNil(rec.Usecases), rec.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Find selects records by usecase tag and optional collection.
func (r *RecordRepo) Find(ctx context.Context, collection, usecase string) ([]model.Record, error) {
	const q = `
SELECT id, collection, data, acl, usecases, created_at
FROM records
WHERE ($1 = '' OR collection = $1) AND $2 = ANY(usecases)
ORDER BY id ASC`
	rows, err := r.db.Pool.Query(ctx, q, collection, usecase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var rec model.Record
		if err = rows.Scan(&rec.ID, &rec.Collection, &rec.Data, &rec.ACL, &rec.Usecases, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update overwrites the mutable columns of a record.
func (r *RecordRepo) Update(ctx context.Context, id uuid.UUID, p model.RecordPatch) error {
	const q = `UPDATE records SET data=$2, acl=$3, usecases=$4 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, p.Data, nonNil(p.ACL), nonNil(p.Usecases))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes a record row.
func (r *RecordRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM records WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// nonNil keeps text[] columns NOT NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
