// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested record or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates bad credentials or an invalid session token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates authentication is locked after repeated failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (username, record id).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates a request rejected by validation.
	ErrInvalidArgument = errors.New("invalid argument")
)
