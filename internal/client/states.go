package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/protocol"
	"github.com/and161185/sealdb/internal/query"
)

// lockedReason is the close reason the server gives a locked account.
const lockedReason = "too many failed authentication attempts"

// RemoteError is an operation failure reported by the server. The
// connection stays usable.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string { return e.Op + ": " + e.Message }

// Is maps the server's public error text back onto the shared sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case errs.ErrNotFound:
		return e.Message == "not found"
	case errs.ErrInvalidArgument:
		return e.Message == "invalid argument" || e.Message == "record too large"
	case errs.ErrAlreadyExists:
		return e.Message == "already exists"
	case errs.ErrUnauthorized:
		return e.Message == "authentication required" || e.Message == "authentication failed"
	}
	return false
}

// Connected is a connection that has not authenticated yet.
type Connected struct {
	conn *conn
}

// Authenticate logs in with a username and password. A rejected login
// returns an error matching errs.ErrUnauthorized and leaves c usable; a
// locked account returns errs.ErrRateLimited and the connection is closed.
func (c *Connected) Authenticate(ctx context.Context, username, password string) (*Authenticated, error) {
	return c.authenticate(ctx, protocol.ClientAuthentication{Username: username, Password: password})
}

// Resume logs in with a session token from an earlier Authenticate.
func (c *Connected) Resume(ctx context.Context, token string) (*Authenticated, error) {
	return c.authenticate(ctx, protocol.ClientAuthentication{Token: token})
}

func (c *Connected) authenticate(ctx context.Context, req protocol.ClientAuthentication) (*Authenticated, error) {
	var resp protocol.SingleValueResponse
	err := c.conn.roundTrip(ctx, req, func(msg protocol.Message) (bool, error) {
		r, ok := msg.(protocol.SingleValueResponse)
		if !ok {
			return true, unexpected(msg)
		}
		resp = r
		return true, nil
	})
	var closed *ClosedError
	if errors.As(err, &closed) && closed.Reason == lockedReason {
		return nil, fmt.Errorf("%w: %s", errs.ErrRateLimited, closed.Reason)
	}
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &RemoteError{Op: "authenticate", Message: resp.Error}
	}
	return &Authenticated{conn: c.conn, token: string(resp.Value)}, nil
}

// IsAlive reports whether the connection can still be used.
func (c *Connected) IsAlive() bool { return c.conn.alive.Load() }

// TerminateConnection sends EndOfCommunication and closes the connection.
func (c *Connected) TerminateConnection() error { return c.conn.terminate() }

// Authenticated is a logged-in connection.
type Authenticated struct {
	conn  *conn
	token string
}

// Token returns the session token issued at login.
func (a *Authenticated) Token() string { return a.token }

// IsAlive reports whether the connection can still be used.
func (a *Authenticated) IsAlive() bool { return a.conn.alive.Load() }

// TerminateConnection sends EndOfCommunication and closes the connection.
func (a *Authenticated) TerminateConnection() error { return a.conn.terminate() }

// Insert stores a record and returns the id the server assigned.
func (a *Authenticated) Insert(ctx context.Context, ins protocol.Insertion) (uuid.UUID, error) {
	var resp protocol.InsertResponse
	err := a.conn.roundTrip(ctx, ins, expect(&resp))
	if err != nil {
		return uuid.Nil, err
	}
	if resp.Error != "" {
		return uuid.Nil, &RemoteError{Op: "insert", Message: resp.Error}
	}
	return resp.ID, nil
}

// Query evaluates q on the server and collects every result batch.
func (a *Authenticated) Query(ctx context.Context, q query.Query) ([]protocol.Record, error) {
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	var (
		out    []protocol.Record
		remote error
	)
	err := a.conn.roundTrip(ctx, protocol.QueryRequest{Query: q}, func(msg protocol.Message) (bool, error) {
		switch r := msg.(type) {
		case protocol.QueryResponse:
			out = append(out, r.Records...)
			return r.Last, nil
		case protocol.SingleValueResponse:
			remote = &RemoteError{Op: "query", Message: r.Error}
			return true, nil
		default:
			return true, unexpected(msg)
		}
	})
	if err == nil {
		err = remote
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces the data, ACL and usecases of record id.
func (a *Authenticated) Update(ctx context.Context, id uuid.UUID, data []byte, acl, usecases []string) error {
	var resp protocol.UpdateResponse
	req := protocol.Update{ID: id, Data: data, ACL: acl, Usecases: usecases}
	if err := a.conn.roundTrip(ctx, req, expect(&resp)); err != nil {
		return err
	}
	if !resp.Updated {
		return &RemoteError{Op: "update", Message: resp.Error}
	}
	return nil
}

// Delete removes record id.
func (a *Authenticated) Delete(ctx context.Context, id uuid.UUID) error {
	var resp protocol.DeleteResult
	if err := a.conn.roundTrip(ctx, protocol.Delete{ID: id}, expect(&resp)); err != nil {
		return err
	}
	if !resp.Deleted {
		return &RemoteError{Op: "delete", Message: resp.Error}
	}
	return nil
}

// expect accepts exactly one reply of type T.
func expect[T protocol.Message](dst *T) func(protocol.Message) (bool, error) {
	return func(msg protocol.Message) (bool, error) {
		v, ok := msg.(T)
		if !ok {
			return true, unexpected(msg)
		}
		*dst = v
		return true, nil
	}
}
