// Package client is the sealdb client library.
//
// The connection lifecycle is encoded in types: a Client dials and yields a
// Connected, which only offers authentication; a successful login yields an
// Authenticated, which offers the data operations. Each value is bound to one
// underlying connection and issues one request at a time.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/channel"
	"github.com/and161185/sealdb/internal/protocol"
)

// Name is reported to the server in ClientSetup.
const Name = "sealdb-go"

var (
	// ErrConnectionClosed is returned once the connection is no longer usable.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnexpectedReply reports a reply of the wrong kind. The connection is
	// dropped.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// ClosedError is returned when the server ended the session with
// CloseCommunication.
type ClosedError struct {
	Reason string
}

func (e *ClosedError) Error() string { return "server closed connection: " + e.Reason }

// Is lets callers match any server-initiated close with ErrConnectionClosed.
func (e *ClosedError) Is(target error) bool { return target == ErrConnectionClosed }

// Client holds the shared key and dial settings.
type Client struct {
	key    *channel.Key
	log    *zap.Logger
	dialer net.Dialer

	// MaxFrame bounds replies read from the server; zero means the default.
	MaxFrame int
}

// New returns a client that encrypts with key.
func New(key *channel.Key, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{key: key, log: log}
}

// Connect dials addr over TCP and announces the client.
func (c *Client) Connect(ctx context.Context, addr string) (*Connected, error) {
	nc, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn, err := c.ConnectConn(ctx, nc)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return conn, nil
}

// ConnectConn runs the client side over an already established connection.
func (c *Client) ConnectConn(ctx context.Context, nc net.Conn) (*Connected, error) {
	pc, err := protocol.NewConn(nc, c.key, protocol.RoleClient, c.MaxFrame)
	if err != nil {
		return nil, err
	}
	cn := &conn{nc: nc, pc: pc, log: c.log.With(zap.String("addr", nc.RemoteAddr().String()))}
	cn.alive.Store(true)

	if err := cn.send(ctx, protocol.ClientSetup{Version: protocol.Version, ClientName: Name}); err != nil {
		return nil, err
	}
	cn.log.Debug("connected")
	return &Connected{conn: cn}, nil
}

// conn is the state shared by the typed handles.
type conn struct {
	mu    sync.Mutex
	nc    net.Conn
	pc    *protocol.Conn
	log   *zap.Logger
	alive atomic.Bool
}

// withContext runs fn with socket I/O interrupted once ctx is done. Any
// failure drops the connection.
func (c *conn) withContext(ctx context.Context, fn func() error) error {
	if !c.alive.Load() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.nc.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = c.nc.SetDeadline(time.Unix(1, 0)) })
	err := fn()
	stop()

	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		c.drop(err)
	}
	return err
}

func (c *conn) send(ctx context.Context, msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withContext(ctx, func() error { return c.pc.WriteMessage(msg) })
}

// roundTrip writes req and hands every reply to next until next reports done.
func (c *conn) roundTrip(ctx context.Context, req protocol.Message, next func(protocol.Message) (bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withContext(ctx, func() error {
		if err := c.pc.WriteMessage(req); err != nil {
			return fmt.Errorf("send %s: %w", req.Type(), err)
		}
		for {
			msg, err := c.pc.ReadMessage()
			if err != nil {
				return fmt.Errorf("read reply to %s: %w", req.Type(), err)
			}
			if cl, ok := msg.(protocol.CloseCommunication); ok {
				return &ClosedError{Reason: cl.Reason}
			}
			done, err := next(msg)
			if err != nil || done {
				return err
			}
		}
	})
}

// drop marks the connection dead and releases the socket.
func (c *conn) drop(cause error) {
	if c.alive.CompareAndSwap(true, false) {
		c.log.Debug("connection dropped", zap.Error(cause))
		_ = c.nc.Close()
	}
}

func (c *conn) terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive.Load() {
		return nil
	}
	_ = c.nc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := c.pc.WriteMessage(protocol.EndOfCommunication{})
	c.alive.Store(false)
	if cerr := c.nc.Close(); err == nil {
		err = cerr
	}
	return err
}

func unexpected(msg protocol.Message) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedReply, msg.Type())
}
