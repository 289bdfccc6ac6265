package server

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/metrics"
	"github.com/and161185/sealdb/internal/protocol"
)

// HandlerFunc processes one decoded message for a connection.
type HandlerFunc func(ctx context.Context, s *Session, msg protocol.Message, replies chan<- protocol.Message) Command

// Interceptor wraps a HandlerFunc.
type Interceptor func(next HandlerFunc) HandlerFunc

// Chain applies interceptors so that the first one is outermost.
func Chain(h HandlerFunc, ics ...Interceptor) HandlerFunc {
	for i := len(ics) - 1; i >= 0; i-- {
		h = ics[i](h)
	}
	return h
}

// SessionContext exposes the session of an authenticated connection to the
// handlers through WithSession.
func SessionContext() Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *Session, msg protocol.Message, replies chan<- protocol.Message) Command {
			if s.Phase == PhaseAuthenticated {
				ctx = WithSession(ctx, s.User)
			}
			return next(ctx, s, msg, replies)
		}
	}
}

// Logging logs every message's type, outcome and duration, never payloads.
func Logging(m *metrics.Metrics) Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *Session, msg protocol.Message, replies chan<- protocol.Message) Command {
			start := time.Now()
			cmd := next(ctx, s, msg, replies)
			m.Message(msg.Type().String(), cmd.String())
			user := ""
			if sess, ok := SessionFromCtx(ctx); ok {
				user = sess.Username
			}
			s.Log.Debug("message",
				zap.Stringer("type", msg.Type()),
				zap.String("user", user),
				zap.Stringer("command", cmd),
				zap.Stringer("phase", s.Phase),
				zap.Duration("dur", time.Since(start)),
			)
			return cmd
		}
	}
}

// Recover turns a panic in a handler into Exit for that connection only.
func Recover() Interceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, s *Session, msg protocol.Message, replies chan<- protocol.Message) (cmd Command) {
			defer func() {
				if r := recover(); r != nil {
					s.Log.Error("panic",
						zap.Any("reason", r),
						zap.ByteString("stack", debug.Stack()),
						zap.Stringer("type", msg.Type()),
					)
					s.Phase = PhaseTerminated
					cmd = Exit
				}
			}()
			return next(ctx, s, msg, replies)
		}
	}
}
