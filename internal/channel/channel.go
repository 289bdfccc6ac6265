// Package channel implements the authenticated encryption used for every
// frame exchanged between client and server.
package channel

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	siv "github.com/secure-io/siv-go"
)

// Sizes of the channel primitives. The AEAD is AES-256-GCM-SIV: a repeated
// nonce only reveals whether two (plaintext, aad) pairs are identical.
const (
	KeySize   = 32 // 256-bit key
	NonceSize = 12 // 96-bit nonce
	Overhead  = 16 // POLYVAL tag
)

var (
	// ErrAuthentication reports a ciphertext that failed verification:
	// altered ciphertext or associated data, wrong key or nonce, or truncation.
	ErrAuthentication = errors.New("channel: message authentication failed")

	// ErrEncrypt reports a failure to seal a payload.
	ErrEncrypt = errors.New("channel: encryption failed")
)

// Key is the process-wide symmetric key. It is created once at start-up
// (GenerateKey or LoadKey) and only read afterwards.
type Key [KeySize]byte

// Nonce must be unique for every encryption under the same Key.
type Nonce [NonceSize]byte

// GenerateKey returns a key read from the system CSPRNG.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// NewNonce returns a random nonce. 96 random bits keep the collision
// probability negligible for the frame volumes a single key sees.
func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

// Encrypt seals plaintext and binds aad to the result. aad is authenticated
// but not encrypted.
func Encrypt(key *Key, nonce *Nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// Decrypt opens ciphertext sealed by Encrypt with the same key, nonce and aad.
// It never returns partially decrypted data.
func Decrypt(key *Key, nonce *Nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < Overhead {
		return nil, ErrAuthentication
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, ErrAuthentication
	}
	pt, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

func newAEAD(key *Key) (cipher.AEAD, error) {
	return siv.NewGCM(key[:])
}
