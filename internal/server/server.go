// Package server accepts encrypted client connections and runs the
// per-connection protocol state machine.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/channel"
	"github.com/and161185/sealdb/internal/metrics"
)

// Options tunes connection handling. Zero durations disable the deadline.
type Options struct {
	IdleTimeout   time.Duration // read deadline once authenticated
	UnauthTimeout time.Duration // read deadline before authentication
	WriteTimeout  time.Duration
	MaxFrame      int // 0 = protocol.DefaultMaxFrame
	ReplyBuffer   int // queued replies per connection
}

// DefaultOptions are used by cmd/server unless configured otherwise.
var DefaultOptions = Options{
	IdleTimeout:   5 * time.Minute,
	UnauthTimeout: 30 * time.Second,
	WriteTimeout:  10 * time.Second,
	ReplyBuffer:   64,
}

// Server serves the sealdb protocol on a listener.
type Server struct {
	opts    Options
	key     *channel.Key
	handle  HandlerFunc
	metrics *metrics.Metrics
	log     *zap.Logger

	nextID atomic.Uint64
	conns  sync.WaitGroup
}

// New constructs a server. The key is shared read-only by every connection.
func New(opts Options, key *channel.Key, d *Dispatcher, m *metrics.Metrics, log *zap.Logger) *Server {
	if opts.ReplyBuffer <= 0 {
		opts.ReplyBuffer = DefaultOptions.ReplyBuffer
	}
	if opts.MaxFrame > 0 {
		d.setMaxFrame(opts.MaxFrame)
	}
	return &Server{
		opts:    opts,
		key:     key,
		handle:  Chain(d.Dispatch, Recover(), SessionContext(), Logging(m)),
		metrics: m,
		log:     log,
	}
}

// Serve accepts connections until ctx is canceled or the listener fails,
// then waits for every connection goroutine to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	var err error
	var backoff time.Duration
	for {
		nc, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() != nil || errors.Is(aerr, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(aerr, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.Warn("accept failed, retrying", zap.Error(aerr), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			err = aerr
			break
		}
		backoff = 0

		id := s.nextID.Add(1)
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.ServeConn(ctx, nc, id)
		}()
	}

	s.conns.Wait()
	s.log.Info("server stopped")
	return err
}
