package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/channel"
	"github.com/and161185/sealdb/internal/protocol"
)

// ServeConn runs the protocol on one connection until the session ends, the
// peer disconnects, a frame fails or ctx is canceled. It closes nc.
//
// The calling goroutine reads, decodes and dispatches sequentially. A second
// goroutine writes queued replies in order.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn, id uint64) {
	peer := nc.RemoteAddr().String()
	log := s.log.With(zap.Uint64("conn", id), zap.String("peer", peer))

	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	pc, err := protocol.NewConn(nc, s.key, protocol.RoleServer, s.opts.MaxFrame)
	if err != nil {
		log.Error("connection setup failed", zap.Error(err))
		_ = nc.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	replies := make(chan protocol.Message, s.opts.ReplyBuffer)
	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop(nc, pc, replies, cancel, log)
	}()

	log.Debug("connection opened")
	sess := &Session{ID: id, Peer: peer, Phase: PhaseUnauthenticated, Log: log}
	s.readLoop(ctx, nc, pc, sess, replies)

	close(replies)
	<-written
	_ = nc.Close()
	log.Debug("connection closed", zap.Stringer("phase", sess.Phase))
}

func (s *Server) readLoop(ctx context.Context, nc net.Conn, pc *protocol.Conn, sess *Session, replies chan<- protocol.Message) {
	for sess.Phase != PhaseTerminated {
		timeout := s.opts.IdleTimeout
		if sess.Phase == PhaseUnauthenticated {
			timeout = s.opts.UnauthTimeout
		}
		if timeout > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(timeout))
		}

		msg, err := pc.ReadMessage()
		if err != nil {
			s.readFailed(ctx, sess, err, replies)
			sess.Phase = PhaseTerminated
			return
		}
		if s.handle(ctx, sess, msg, replies) == Exit {
			sess.Phase = PhaseTerminated
		}
	}
}

// readFailed logs why a connection stopped reading and, when the peer can
// still understand us, tells it.
func (s *Server) readFailed(ctx context.Context, sess *Session, err error, replies chan<- protocol.Message) {
	var ne net.Error
	switch {
	case ctx.Err() != nil:
		sess.Log.Debug("connection canceled")
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		sess.Log.Debug("peer disconnected")
	case errors.Is(err, io.ErrUnexpectedEOF):
		sess.Log.Info("peer disconnected mid-frame")
	case errors.As(err, &ne) && ne.Timeout():
		sess.Log.Info("read timeout", zap.Stringer("phase", sess.Phase))
		send(ctx, replies, protocol.CloseCommunication{Reason: "timeout"})
	case errors.Is(err, channel.ErrAuthentication):
		s.metrics.FrameError("authentication")
		sess.Log.Warn("frame failed authentication", zap.Error(err))
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.metrics.FrameError("too_large")
		sess.Log.Warn("frame too large", zap.Error(err))
		send(ctx, replies, protocol.CloseCommunication{Reason: "frame too large"})
	case errors.Is(err, protocol.ErrMalformedMessage):
		s.metrics.FrameError("malformed")
		sess.Log.Warn("malformed message", zap.Error(err))
		send(ctx, replies, protocol.CloseCommunication{Reason: "malformed message"})
	default:
		sess.Log.Error("read failed", zap.Error(err))
	}
}

func (s *Server) writeLoop(nc net.Conn, pc *protocol.Conn, replies <-chan protocol.Message, cancel context.CancelFunc, log *zap.Logger) {
	failed := false
	for msg := range replies {
		if failed {
			continue
		}
		if s.opts.WriteTimeout > 0 {
			_ = nc.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}
		if err := pc.WriteMessage(msg); err != nil {
			log.Warn("write failed", zap.Stringer("type", msg.Type()), zap.Error(err))
			failed = true
			cancel()
		}
	}
}
