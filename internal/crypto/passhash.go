// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time      uint32 // iterations
	MemoryKiB uint32
	Threads   uint8
	KeyLen    uint32
}

// DefaultParams are tuned for server-side hashing.
var DefaultParams = Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 1, KeyLen: 32}

// SaltLen is the length of per-user salts.
const SaltLen = 16

// Hasher hashes and verifies passwords with fixed parameters.
type Hasher struct{ p Params }

// NewHasher returns a hasher; zero fields fall back to DefaultParams.
func NewHasher(p Params) Hasher {
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = DefaultParams.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = DefaultParams.Threads
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultParams.KeyLen
	}
	return Hasher{p: p}
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) { return RandBytes(SaltLen) }

// Hash returns the Argon2id hash of password using salt.
func (h Hasher) Hash(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, h.p.Time, h.p.MemoryKiB, h.p.Threads, h.p.KeyLen)
}

// Verify compares in constant time.
func (h Hasher) Verify(password, salt, expected []byte) bool {
	return subtle.ConstantTimeCompare(h.Hash(password, salt), expected) == 1
}
