package channel

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mustKey(t *testing.T) Key {
	t.Helper()
	k, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func mustNonce(t *testing.T) Nonce {
	t.Helper()
	n, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	return n
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	t.Parallel()

	key := mustKey(t)
	payloads := [][]byte{
		nil,
		{},
		{0x00},
		[]byte("users:filter"),
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}
	for i, pt := range payloads {
		nonce := mustNonce(t)
		aad := []byte{byte(i), 0, 0, 0, 0, 0, 0, 0, 7}
		ct, err := Encrypt(&key, &nonce, pt, aad)
		if err != nil {
			t.Fatalf("Encrypt[%d]: %v", i, err)
		}
		if len(ct) != len(pt)+Overhead {
			t.Fatalf("ciphertext len=%d, want %d", len(ct), len(pt)+Overhead)
		}
		got, err := Decrypt(&key, &nonce, ct, aad)
		if err != nil {
			t.Fatalf("Decrypt[%d]: %v", i, err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("payload %d mismatch", i)
		}
	}
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	t.Parallel()

	key := mustKey(t)
	nonce := mustNonce(t)
	aad := []byte("sealdb/1")
	ct, err := Encrypt(&key, &nonce, []byte("opaque payload"), aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	for i := range ct {
		bad := append([]byte(nil), ct...)
		bad[i] ^= 0x01
		pt, err := Decrypt(&key, &nonce, bad, aad)
		if !errors.Is(err, ErrAuthentication) {
			t.Fatalf("byte %d: want ErrAuthentication, got %v", i, err)
		}
		if pt != nil {
			t.Fatalf("byte %d: partial plaintext returned", i)
		}
	}
}

func TestDecrypt_TamperedAADFails(t *testing.T) {
	t.Parallel()

	key := mustKey(t)
	nonce := mustNonce(t)
	aad := []byte("sealdb/1\x04\x00\x00\x00\x00\x00\x00\x00\x01")
	ct, err := Encrypt(&key, &nonce, []byte("query"), aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	for i := range aad {
		bad := append([]byte(nil), aad...)
		bad[i] ^= 0x80
		if _, err := Decrypt(&key, &nonce, ct, bad); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("aad byte %d: want ErrAuthentication, got %v", i, err)
		}
	}
}

func TestEncrypt_NonceReuseDoesNotLeakXOR(t *testing.T) {
	t.Parallel()

	key := mustKey(t)
	nonce := mustNonce(t)
	p1 := make([]byte, 32)
	p2 := []byte("attack at dawn, attack at dusk!!")

	c1, err := Encrypt(&key, &nonce, p1, nil)
	if err != nil {
		t.Fatalf("Encrypt p1: %v", err)
	}
	c2, err := Encrypt(&key, &nonce, p2, nil)
	if err != nil {
		t.Fatalf("Encrypt p2: %v", err)
	}
	x := make([]byte, len(p2))
	for i := range x {
		x[i] = c1[i] ^ c2[i]
	}
	if bytes.Equal(x, p2) {
		t.Fatalf("reused nonce exposes plaintext xor")
	}

	again, err := Encrypt(&key, &nonce, p2, nil)
	if err != nil {
		t.Fatalf("Encrypt again: %v", err)
	}
	if !bytes.Equal(again, c2) {
		t.Fatalf("encryption must be deterministic for a fixed key, nonce and input")
	}
}

func TestDecrypt_WrongKeyNonceOrTruncated(t *testing.T) {
	t.Parallel()

	key := mustKey(t)
	other := mustKey(t)
	nonce := mustNonce(t)
	otherNonce := mustNonce(t)

	ct, err := Encrypt(&key, &nonce, []byte("data"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(&other, &nonce, ct, nil); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("wrong key: %v", err)
	}
	if _, err := Decrypt(&key, &otherNonce, ct, nil); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("wrong nonce: %v", err)
	}
	if _, err := Decrypt(&key, &nonce, ct[:len(ct)-1], nil); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("truncated: %v", err)
	}
	if _, err := Decrypt(&key, &nonce, ct[:3], nil); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("shorter than tag: %v", err)
	}
}

func TestGenerateKey_NotZeroAndDistinct(t *testing.T) {
	t.Parallel()

	a, b := mustKey(t), mustKey(t)
	if a == (Key{}) || a == b {
		t.Fatalf("keys look non-random")
	}
}

func TestSaveLoadKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "key.bin")
	key := mustKey(t)

	if err := SaveKey(key, path); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) != KeySize {
		t.Fatalf("key file size=%d, want %d", len(raw), KeySize)
	}
	got, err := LoadKey(path)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != key {
		t.Fatalf("loaded key differs")
	}
}

func TestLoadKey_WrongSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	short := filepath.Join(dir, "short")
	long := filepath.Join(dir, "long")
	if err := os.WriteFile(short, make([]byte, 31), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(long, make([]byte, 33), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKey(short); !errors.Is(err, ErrKeySize) {
		t.Fatalf("short: want ErrKeySize, got %v", err)
	}
	if _, err := LoadKey(long); !errors.Is(err, ErrKeySize) {
		t.Fatalf("long: want ErrKeySize, got %v", err)
	}
	if _, err := LoadKey(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("missing: want error")
	}
}

func TestDeriveKey_DirectionsDiffer(t *testing.T) {
	t.Parallel()

	master := mustKey(t)
	c2s, err := DeriveKey(&master, ClientToServer)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	s2c, err := DeriveKey(&master, ServerToClient)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if c2s == s2c || c2s == master || s2c == master {
		t.Fatalf("derived keys must be distinct from each other and the master")
	}
	again, _ := DeriveKey(&master, ClientToServer)
	if again != c2s {
		t.Fatalf("derivation must be deterministic")
	}

	nonce := mustNonce(t)
	ct, err := Encrypt(&c2s, &nonce, []byte("x"), nil)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(&s2c, &nonce, ct, nil); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("frame must not open with the other direction's key: %v", err)
	}
}
