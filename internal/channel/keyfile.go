package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrKeySize indicates a key file that is not exactly KeySize bytes.
var ErrKeySize = errors.New("channel: key file must hold exactly 32 bytes")

// SaveKey writes the raw key bytes to path with owner-only permissions.
func SaveKey(key Key, path string) error {
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	return nil
}

// LoadKey reads a key file: 32 raw bytes, no header.
func LoadKey(path string) (Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return Key{}, fmt.Errorf("load key: %w", err)
	}
	defer f.Close()

	var k Key
	if _, err := io.ReadFull(f, k[:]); err != nil {
		return Key{}, ErrKeySize
	}
	var extra [1]byte
	if n, _ := f.Read(extra[:]); n != 0 {
		return Key{}, ErrKeySize
	}
	return k, nil
}
