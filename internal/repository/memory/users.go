package memory

import (
	"context"
	"sync"

	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserStore implements UserRepository in memory.
type UserStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*model.User
	byName map[string]*model.User
}

// NewUserStore constructs an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{byID: map[uuid.UUID]*model.User{}, byName: map[string]*model.User{}}
}

// Create stores a copy of u. Usernames are unique.
func (s *UserStore) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := s.byID[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *u
	s.byID[u.ID] = &cp
	s.byName[u.Username] = &cp
	return nil
}

// GetByID loads a user by ID.
func (s *UserStore) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetByUsername loads a user by username.
func (s *UserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
