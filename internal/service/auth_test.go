package service

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/sealdb/internal/crypto"
	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/limiter"
	"github.com/and161185/sealdb/internal/model"
	"github.com/and161185/sealdb/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

var testHasher = pkgcrypto.NewHasher(pkgcrypto.Params{Time: 1, MemoryKiB: 64})

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func newUser(t *testing.T, name, password string) *model.User {
	t.Helper()
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	return &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: name,
		SaltAuth: salt,
		PwdHash:  testHasher.Hash([]byte(password), salt),
	}
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byName: map[string]*model.User{}}
	s := NewAuthService(users, testHasher, []byte("k"), time.Minute, &fakeLimiter{})

	if _, err := s.Register(context.Background(), "", ""); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want validation error on empty username/password, got %v", err)
	}

	id, err := s.Register(context.Background(), "Bob", "Pomme")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty user id")
	}
	stored := users.byName["Bob"]
	if !testHasher.Verify([]byte("Pomme"), stored.SaltAuth, stored.PwdHash) {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := s.Register(context.Background(), "Bob", "pwd2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(context.Background(), "alice", "pwd"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_Authenticate_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	u := newUser(t, "Bob", "Pomme")
	users := &fakeUsers{byName: map[string]*model.User{"Bob": u}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(users, testHasher, []byte("secret"), 2*time.Minute, lim)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	if _, err := s.Authenticate(ctx, "Bob", "Pomme", "1.2.3.4:5"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, err := s.Authenticate(ctx, "Bob", "Pomme", "1.2.3.4:5"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, err := s.Authenticate(ctx, "nope", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}

	users.getErr = errors.New("db down")
	if _, err := s.Authenticate(ctx, "Bob", "Pomme", ""); err == nil || errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("storage failure must not look like bad credentials: %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, err := s.Authenticate(ctx, "Bob", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, err := s.Authenticate(ctx, "Bob", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	sess, err := s.Authenticate(ctx, "Bob", "Pomme", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("Authenticate success: %v", err)
	}
	if sess.Token == "" || sess.ExpiresAt.Before(time.Now()) || sess.UserID != u.ID || sess.Username != "Bob" {
		t.Fatalf("bad session: %+v", sess)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_ResumeWithToken(t *testing.T) {
	t.Parallel()

	u := newUser(t, "Bob", "Pomme")
	users := &fakeUsers{byName: map[string]*model.User{"Bob": u}}
	s := NewAuthService(users, testHasher, []byte("secret"), time.Minute, &fakeLimiter{allowOK: true})
	ctx := context.Background()

	sess, err := s.Authenticate(ctx, "Bob", "Pomme", "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	resumed, err := s.Resume(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.UserID != u.ID || resumed.Token == "" {
		t.Fatalf("bad resumed session: %+v", resumed)
	}

	other := NewAuthService(users, testHasher, []byte("other-key"), time.Minute, &fakeLimiter{allowOK: true})
	if _, err := other.Resume(ctx, sess.Token); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("token signed with another key must fail, got %v", err)
	}
	if _, err := s.Resume(ctx, "garbage"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("garbage token must fail, got %v", err)
	}

	delete(users.byName, "Bob")
	if _, err := s.Resume(ctx, sess.Token); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("token of a removed user must fail, got %v", err)
	}
}

func TestAuth_ResumeRejectsExpiredAndUnsigned(t *testing.T) {
	t.Parallel()

	u := newUser(t, "Bob", "Pomme")
	users := &fakeUsers{byName: map[string]*model.User{"Bob": u}}
	key := []byte("secret")
	s := NewAuthService(users, testHasher, key, time.Minute, &fakeLimiter{allowOK: true})

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   u.ID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	tok, err := expired.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Resume(context.Background(), tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expired token must fail, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   u.ID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	tok, err = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Resume(context.Background(), tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("unsigned token must fail, got %v", err)
	}
}
