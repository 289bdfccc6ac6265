package channel

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Direction names one half of a connection.
type Direction uint8

// Frame directions.
const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) info() []byte {
	if d == ClientToServer {
		return []byte("sealdb/1 client->server")
	}
	return []byte("sealdb/1 server->client")
}

// DeriveKey derives the traffic key for one direction from the shared key
// with HKDF-SHA256. Frames sealed for one direction never open in the other.
func DeriveKey(master *Key, d Direction) (Key, error) {
	var k Key
	r := hkdf.New(sha256.New, master[:], nil, d.info())
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return Key{}, fmt.Errorf("derive key: %w", err)
	}
	return k, nil
}
