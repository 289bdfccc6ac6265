// Package model defines domain entities used by services and repositories.
package model

import (
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
)

// DefaultCollection is the implicit collection of records inserted with an
// empty collection name.
const DefaultCollection = ""

// Record is a single stored payload with its routing metadata.
type Record struct {
	ID         uuid.UUID // assigned at insertion (UUIDv7, time ordered)
	Collection string    // "" = default collection
	Data       []byte    // opaque payload
	ACL        []string  // ordered permission strings
	Usecases   []string  // ordered usecase tags
	CreatedAt  time.Time
}

// HasUsecase reports whether the record is tagged with usecase.
func (r *Record) HasUsecase(usecase string) bool {
	return slices.Contains(r.Usecases, usecase)
}

// Matches reports whether the record satisfies a collection/usecase
// predicate; an empty collection matches every collection.
func (r *Record) Matches(collection, usecase string) bool {
	if collection != "" && r.Collection != collection {
		return false
	}
	return r.HasUsecase(usecase)
}

// Clone returns a deep copy so callers cannot alias stored slices.
func (r Record) Clone() Record {
	r.Data = slices.Clone(r.Data)
	r.ACL = slices.Clone(r.ACL)
	r.Usecases = slices.Clone(r.Usecases)
	return r
}

// RecordPatch replaces the mutable parts of a record.
type RecordPatch struct {
	Data     []byte
	ACL      []string
	Usecases []string
}

// User is an account allowed to open authenticated sessions.
type User struct {
	ID        uuid.UUID
	Username  string // unique
	PwdHash   []byte // Argon2id(password, SaltAuth)
	SaltAuth  []byte
	CreatedAt time.Time
}

// Session describes a successfully authenticated connection.
type Session struct {
	UserID    uuid.UUID
	Username  string
	Token     string // signed session token, reusable for re-authentication
	ExpiresAt time.Time
}
