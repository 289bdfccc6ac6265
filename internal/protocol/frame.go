package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/and161185/sealdb/internal/channel"
	"github.com/and161185/sealdb/internal/codec"
)

const (
	// DefaultMaxFrame bounds the ciphertext length of one frame.
	DefaultMaxFrame = 16 << 20

	headerSize = 1 + 4 + channel.NonceSize
	aadLabel   = "sealdb/1"
	aadSize    = len(aadLabel) + 1 + 8
)

// ErrFrameTooLarge is returned for frames above the configured limit.
var ErrFrameTooLarge = errors.New("frame too large")

// responseEnvelope bounds what a QueryResponse adds around its records: the
// map header, both keys, the array header and the bool.
const responseEnvelope = 32

// RecordBudget returns how many encoded record bytes one QueryResponse can
// carry in a frame of at most maxFrame ciphertext bytes.
func RecordBudget(maxFrame int) int {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return maxFrame - channel.Overhead - responseEnvelope
}

// RecordSize returns the encoded size of r as an element of QueryResponse.
func RecordSize(r Record) (int, error) {
	b, err := codec.Marshal(r)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Conn reads and writes encrypted frames:
//
//	type(1) | length(4, big endian) | nonce(12) | ciphertext(length)
//
// The type byte and a per-direction sequence number are bound into the AEAD
// as additional data and each direction has its own key, so reordered,
// replayed, reflected or retagged frames fail to decrypt. ReadMessage and
// WriteMessage may run on different goroutines; concurrent writers are
// serialized.
type Conn struct {
	r        *bufio.Reader
	w        io.Writer
	readKey  channel.Key
	writeKey channel.Key
	maxFrame int

	readSeq uint64

	wmu      sync.Mutex
	writeSeq uint64
}

// Role selects which traffic key a Conn writes with.
type Role uint8

// Connection roles.
const (
	RoleClient Role = iota
	RoleServer
)

// NewConn wraps rw. Both traffic keys are derived from the shared key; a
// client writes client->server frames and reads server->client frames.
// maxFrame <= 0 selects DefaultMaxFrame.
func NewConn(rw io.ReadWriter, key *channel.Key, role Role, maxFrame int) (*Conn, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	rd, wd := channel.ServerToClient, channel.ClientToServer
	if role == RoleServer {
		rd, wd = wd, rd
	}
	readKey, err := channel.DeriveKey(key, rd)
	if err != nil {
		return nil, err
	}
	writeKey, err := channel.DeriveKey(key, wd)
	if err != nil {
		return nil, err
	}
	return &Conn{
		r:        bufio.NewReader(rw),
		w:        rw,
		readKey:  readKey,
		writeKey: writeKey,
		maxFrame: maxFrame,
	}, nil
}

func additionalData(tag byte, seq uint64) []byte {
	aad := make([]byte, 0, aadSize)
	aad = append(aad, aadLabel...)
	aad = append(aad, tag)
	return binary.BigEndian.AppendUint64(aad, seq)
}

// WriteMessage encodes, encrypts and writes msg as one frame.
func (c *Conn) WriteMessage(msg Message) error {
	t, payload, err := Encode(msg)
	if err != nil {
		return err
	}
	nonce, err := channel.NewNonce()
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	ct, err := channel.Encrypt(&c.writeKey, &nonce, payload, additionalData(byte(t), c.writeSeq))
	if err != nil {
		return err
	}
	if len(ct) > c.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(ct))
	}

	frame := make([]byte, headerSize, headerSize+len(ct))
	frame[0] = byte(t)
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(ct)))
	copy(frame[5:headerSize], nonce[:])
	frame = append(frame, ct...)

	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("protocol: write %s: %w", t, err)
	}
	c.writeSeq++
	return nil
}

// ReadMessage reads, authenticates and decodes the next frame. Any error is
// fatal for the stream: after a failure the sequence numbers of both peers
// no longer agree.
func (c *Conn) ReadMessage() (Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(hdr[1:5]))
	if n > c.maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if n < channel.Overhead {
		return nil, fmt.Errorf("%w: short frame", channel.ErrAuthentication)
	}

	ct := make([]byte, n)
	if _, err := io.ReadFull(c.r, ct); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var nonce channel.Nonce
	copy(nonce[:], hdr[5:headerSize])
	payload, err := channel.Decrypt(&c.readKey, &nonce, ct, additionalData(hdr[0], c.readSeq))
	if err != nil {
		return nil, err
	}
	c.readSeq++

	t, err := ParseMessageType(hdr[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return Decode(t, payload)
}
