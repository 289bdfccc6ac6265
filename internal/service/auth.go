// Package service contains application services for authentication and records.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgcrypto "github.com/and161185/sealdb/internal/crypto"
	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/limiter"
	"github.com/and161185/sealdb/internal/model"
	"github.com/and161185/sealdb/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// AuthService authenticates connections.
type AuthService interface {
	// Register stores a new account with an Argon2id password hash.
	Register(ctx context.Context, username, password string) (uuid.UUID, error)
	// Authenticate checks credentials with rate limiting by (username, peer).
	Authenticate(ctx context.Context, username, password, peer string) (model.Session, error)
	// Resume authenticates with a session token from an earlier Authenticate.
	Resume(ctx context.Context, token string) (model.Session, error)
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	hasher   pkgcrypto.Hasher
	signKey  []byte
	tokenTTL time.Duration
	lim      limiter.Limiter
}

// NewAuthService builds the auth service used by the dispatcher.
func NewAuthService(users repository.UserRepository, hasher pkgcrypto.Hasher, signKey []byte, tokenTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, hasher: hasher, signKey: signKey, tokenTTL: tokenTTL, lim: lim}
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	if username == "" || password == "" {
		return uuid.Nil, fmt.Errorf("%w: empty username/password", errs.ErrInvalidArgument)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return uuid.Nil, err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  s.hasher.Hash([]byte(password), salt),
		SaltAuth: salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	return uid, nil
}

// Authenticate verifies username and password. Unknown users and wrong
// passwords both yield errs.ErrUnauthorized; a locked pair yields
// errs.ErrRateLimited.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, username, password, peer string) (model.Session, error) {
	peerHash := limiter.HashPeer(peer)

	allowed, _, err := s.lim.Allow(ctx, username, peerHash)
	if err != nil {
		return model.Session{}, err
	}
	if !allowed {
		return model.Session{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Session{}, err
	}
	if err != nil || !s.hasher.Verify([]byte(password), u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, peerHash); ferr == nil && blocked {
			return model.Session{}, errs.ErrRateLimited
		}
		return model.Session{}, errs.ErrUnauthorized
	}

	// best-effort
	_ = s.lim.Success(ctx, username, peerHash)

	return s.session(u)
}

// Resume validates a signed session token and loads its user.
func (s *AuthServiceImpl) Resume(ctx context.Context, token string) (model.Session, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return model.Session{}, errs.ErrUnauthorized
	}
	uid, err := uuid.FromString(claims.Subject)
	if err != nil {
		return model.Session{}, errs.ErrUnauthorized
	}
	u, err := s.users.GetByID(ctx, uid)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Session{}, errs.ErrUnauthorized
	}
	if err != nil {
		return model.Session{}, err
	}
	return s.session(u)
}

func (s *AuthServiceImpl) session(u *model.User) (model.Session, error) {
	tok, exp, err := s.issueToken(u.ID)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{UserID: u.ID, Username: u.Username, Token: tok, ExpiresAt: exp}, nil
}

// issueToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueToken(userID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
