package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/convert"
	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/metrics"
	"github.com/and161185/sealdb/internal/model"
	"github.com/and161185/sealdb/internal/protocol"
	"github.com/and161185/sealdb/internal/query"
	"github.com/and161185/sealdb/internal/service"
)

// Client-visible reasons. Internal error text never reaches the wire.
const (
	reasonAuthRequired = "authentication required"
	reasonAuthFailed   = "authentication failed"
	reasonLocked       = "too many failed authentication attempts"
	reasonQueryFailed  = "query failed"
	reasonViolation    = "unexpected message"
	reasonTooLarge     = "record too large"
)

// Dispatcher routes decoded messages to services according to the
// connection phase.
type Dispatcher struct {
	auth    service.AuthService
	records service.RecordService
	engine  *query.Engine
	metrics *metrics.Metrics

	// budget is the encoded record bytes one reply frame can carry.
	budget int
}

// NewDispatcher wires the services a connection needs. Replies are sized
// for protocol.DefaultMaxFrame until the server sets its own limit.
func NewDispatcher(auth service.AuthService, records service.RecordService, engine *query.Engine, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		auth:    auth,
		records: records,
		engine:  engine,
		metrics: m,
		budget:  protocol.RecordBudget(protocol.DefaultMaxFrame),
	}
}

func (d *Dispatcher) setMaxFrame(n int) { d.budget = protocol.RecordBudget(n) }

// Dispatch handles one message. Replies are queued on replies in order; the
// returned Command decides whether the connection keeps reading. Record
// commands need the session that SessionContext puts into ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, msg protocol.Message, replies chan<- protocol.Message) Command {
	switch m := msg.(type) {
	case protocol.ClientSetup:
		d.setup(s, m)
		return Continue
	case protocol.ClientAuthentication:
		return d.authenticate(ctx, s, m, replies)
	case protocol.Insertion, protocol.QueryRequest, protocol.Update, protocol.Delete:
		if _, ok := SessionFromCtx(ctx); !ok {
			return d.rejectUnauthenticated(ctx, s, msg, replies)
		}
		return d.command(ctx, s, msg, replies)
	case protocol.EndOfCommunication:
		s.Log.Info("client ended communication")
		s.Phase = PhaseTerminated
		return Exit
	default:
		// Server->client kinds are never valid from a client.
		s.Log.Warn("protocol violation", zap.Stringer("type", msg.Type()))
		return d.closeWith(ctx, s, replies, reasonViolation)
	}
}

func (d *Dispatcher) setup(s *Session, m protocol.ClientSetup) {
	if m.Version != protocol.Version {
		s.Log.Warn("client protocol version mismatch",
			zap.Uint16("client_version", m.Version),
			zap.Uint16("server_version", protocol.Version),
			zap.String("client", m.ClientName),
		)
		return
	}
	s.Log.Info("client setup", zap.String("client", m.ClientName), zap.Uint16("version", m.Version))
}

func (d *Dispatcher) authenticate(ctx context.Context, s *Session, m protocol.ClientAuthentication, replies chan<- protocol.Message) Command {
	var (
		sess model.Session
		err  error
	)
	if m.Token != "" {
		sess, err = d.auth.Resume(ctx, m.Token)
	} else {
		sess, err = d.auth.Authenticate(ctx, m.Username, m.Password, s.Peer)
	}

	switch {
	case err == nil:
		s.Phase = PhaseAuthenticated
		s.User = sess
		d.metrics.Auth("ok")
		s.Log.Info("authenticated", zap.String("user", sess.Username))
		return d.reply(ctx, replies, protocol.SingleValueResponse{OK: true, Value: []byte(sess.Token)})
	case errors.Is(err, errs.ErrRateLimited):
		d.metrics.Auth("locked")
		s.Log.Warn("authentication locked", zap.String("user", m.Username))
		return d.closeWith(ctx, s, replies, reasonLocked)
	case errors.Is(err, errs.ErrUnauthorized):
		d.metrics.Auth("denied")
		s.Log.Info("authentication denied", zap.String("user", m.Username), zap.Bool("token", m.Token != ""))
	default:
		d.metrics.Auth("error")
		s.Log.Error("authentication error", zap.String("user", m.Username), zap.Error(err))
	}
	// A failed attempt keeps the current phase.
	return d.reply(ctx, replies, protocol.SingleValueResponse{Error: reasonAuthFailed})
}

func (d *Dispatcher) rejectUnauthenticated(ctx context.Context, s *Session, msg protocol.Message, replies chan<- protocol.Message) Command {
	s.Log.Warn("command before authentication", zap.Stringer("type", msg.Type()))
	return d.reply(ctx, replies, protocol.SingleValueResponse{Error: reasonAuthRequired})
}

// command runs an operation that needs an authenticated session in ctx.
func (d *Dispatcher) command(ctx context.Context, s *Session, msg protocol.Message, replies chan<- protocol.Message) Command {
	user, _ := SessionFromCtx(ctx)
	log := s.Log.With(zap.String("user", user.Username))
	switch m := msg.(type) {
	case protocol.Insertion:
		return d.insert(ctx, log, m, replies)
	case protocol.Update:
		return d.update(ctx, log, m, replies)
	case protocol.Delete:
		return d.delete(ctx, log, m, replies)
	case protocol.QueryRequest:
		return d.query(ctx, s, log, m, replies)
	}
	return d.closeWith(ctx, s, replies, reasonViolation)
}

// maxCollection bounds collection names so an update, which keeps the stored
// collection, can be size-checked without reading the record.
const maxCollection = 1024

// fits reports whether rec, plus reserve bytes, can be returned in a single
// QueryResponse frame.
func (d *Dispatcher) fits(rec protocol.Record, reserve int) bool {
	if len(rec.Collection) > maxCollection {
		return false
	}
	n, err := protocol.RecordSize(rec)
	return err == nil && n+reserve <= d.budget
}

func (d *Dispatcher) insert(ctx context.Context, log *zap.Logger, m protocol.Insertion, replies chan<- protocol.Message) Command {
	if !d.fits(protocol.Record{Collection: m.Collection, Data: m.Data, ACL: m.ACL, Usecases: m.Usecases}, 0) {
		d.metrics.RecordOp("insert", errs.ErrInvalidArgument)
		log.Warn("insert rejected", zap.String("collection", m.Collection), zap.Int("size", len(m.Data)))
		return d.reply(ctx, replies, protocol.InsertResponse{Error: reasonTooLarge})
	}
	id, err := d.records.Insert(ctx, m.Collection, m.Data, m.ACL, m.Usecases)
	d.metrics.RecordOp("insert", err)
	if err != nil {
		log.Error("insert failed", zap.String("collection", m.Collection), zap.Error(err))
		return d.reply(ctx, replies, protocol.InsertResponse{Error: publicError(err)})
	}
	log.Debug("record inserted", zap.Stringer("id", id), zap.String("collection", m.Collection), zap.Int("size", len(m.Data)))
	return d.reply(ctx, replies, protocol.InsertResponse{ID: id})
}

func (d *Dispatcher) update(ctx context.Context, log *zap.Logger, m protocol.Update, replies chan<- protocol.Message) Command {
	// The stored collection is kept; leave room for the longest allowed name.
	if !d.fits(protocol.Record{Data: m.Data, ACL: m.ACL, Usecases: m.Usecases}, maxCollection+2) {
		d.metrics.RecordOp("update", errs.ErrInvalidArgument)
		log.Warn("update rejected", zap.Stringer("id", m.ID), zap.Int("size", len(m.Data)))
		return d.reply(ctx, replies, protocol.UpdateResponse{ID: m.ID, Error: reasonTooLarge})
	}
	err := d.records.Update(ctx, m.ID, m.Data, m.ACL, m.Usecases)
	d.metrics.RecordOp("update", err)
	if err != nil {
		log.Warn("update failed", zap.Stringer("id", m.ID), zap.Error(err))
		return d.reply(ctx, replies, protocol.UpdateResponse{ID: m.ID, Error: publicError(err)})
	}
	return d.reply(ctx, replies, protocol.UpdateResponse{ID: m.ID, Updated: true})
}

func (d *Dispatcher) delete(ctx context.Context, log *zap.Logger, m protocol.Delete, replies chan<- protocol.Message) Command {
	err := d.records.Delete(ctx, m.ID)
	d.metrics.RecordOp("delete", err)
	if err != nil {
		log.Warn("delete failed", zap.Stringer("id", m.ID), zap.Error(err))
		return d.reply(ctx, replies, protocol.DeleteResult{ID: m.ID, Error: publicError(err)})
	}
	return d.reply(ctx, replies, protocol.DeleteResult{ID: m.ID, Deleted: true})
}

// query streams the result. Engine batches are split further so that no
// QueryResponse outgrows a frame; Last is set only on the final one.
func (d *Dispatcher) query(ctx context.Context, s *Session, log *zap.Logger, m protocol.QueryRequest, replies chan<- protocol.Message) Command {
	start := time.Now()
	n := 0
	err := d.engine.Evaluate(ctx, m.Query, func(batch []model.Record, last bool) error {
		out := make([]protocol.Record, 0, len(batch))
		size := 0
		for _, r := range batch {
			rec := convert.ToWireRecord(r)
			rs, err := protocol.RecordSize(rec)
			if err != nil {
				return err
			}
			if len(out) > 0 && size+rs > d.budget {
				if !send(ctx, replies, protocol.QueryResponse{Records: out}) {
					return ctx.Err()
				}
				out, size = make([]protocol.Record, 0, len(batch)), 0
			}
			out = append(out, rec)
			size += rs
		}
		n += len(batch)
		if !send(ctx, replies, protocol.QueryResponse{Records: out, Last: last}) {
			return ctx.Err()
		}
		return nil
	})
	d.metrics.Query(time.Since(start), n)
	if err != nil {
		log.Error("query failed", zap.Stringer("query", m.Query), zap.Error(err))
		return d.closeWith(ctx, s, replies, reasonQueryFailed)
	}
	log.Debug("query answered", zap.Stringer("query", m.Query), zap.Int("results", n))
	return Continue
}

// reply queues msg; a connection that can no longer take replies exits.
func (d *Dispatcher) reply(ctx context.Context, replies chan<- protocol.Message, msg protocol.Message) Command {
	if !send(ctx, replies, msg) {
		return Exit
	}
	return Continue
}

// closeWith queues CloseCommunication and terminates the session.
func (d *Dispatcher) closeWith(ctx context.Context, s *Session, replies chan<- protocol.Message, reason string) Command {
	send(ctx, replies, protocol.CloseCommunication{Reason: reason})
	s.Phase = PhaseTerminated
	return Exit
}

func send(ctx context.Context, replies chan<- protocol.Message, msg protocol.Message) bool {
	select {
	case replies <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func publicError(err error) string {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return "not found"
	case errors.Is(err, errs.ErrInvalidArgument):
		return "invalid argument"
	case errors.Is(err, errs.ErrAlreadyExists):
		return "already exists"
	default:
		return "internal error"
	}
}
