package postgres

import (
	"context"
	"errors"

	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const selectUser = `
SELECT id, username, pwd_hash, salt_auth, created_at
FROM users WHERE `

// UserRepo keeps accounts in the users table.
type UserRepo struct{ db *DB }

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create stores u. A taken username yields errs.ErrAlreadyExists.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO users (id, username, pwd_hash, salt_auth)
VALUES ($1, $2, $3, $4)`, u.ID, u.Username, u.PwdHash, u.SaltAuth)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID is used when resuming a session from its token subject.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.one(ctx, "id=$1", id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.one(ctx, "username=$1", username)
}

func (r *UserRepo) one(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := r.db.Pool.QueryRow(ctx, selectUser+where, arg).
		Scan(&u.ID, &u.Username, &u.PwdHash, &u.SaltAuth, &u.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errs.ErrNotFound
	case err != nil:
		return nil, err
	}
	return &u, nil
}
