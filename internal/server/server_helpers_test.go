package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/sealdb/internal/channel"
	pkgcrypto "github.com/and161185/sealdb/internal/crypto"
	"github.com/and161185/sealdb/internal/limiter"
	"github.com/and161185/sealdb/internal/metrics"
	"github.com/and161185/sealdb/internal/protocol"
	"github.com/and161185/sealdb/internal/query"
	"github.com/and161185/sealdb/internal/repository/memory"
	"github.com/and161185/sealdb/internal/service"
)

type env struct {
	key     channel.Key
	store   *memory.RecordStore
	auth    *service.AuthServiceImpl
	metrics *metrics.Metrics
	d       *Dispatcher
	srv     *Server
}

type envConfig struct {
	opts      Options
	finder    query.Finder
	records   service.RecordService
	policy    limiter.Policy
	batchSize int
}

type envOption func(*envConfig)

func withOptions(o Options) envOption               { return func(c *envConfig) { c.opts = o } }
func withFinder(f query.Finder) envOption           { return func(c *envConfig) { c.finder = f } }
func withRecords(r service.RecordService) envOption { return func(c *envConfig) { c.records = r } }
func withPolicy(p limiter.Policy) envOption         { return func(c *envConfig) { c.policy = p } }
func withBatchSize(n int) envOption                 { return func(c *envConfig) { c.batchSize = n } }

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	cfg := envConfig{opts: DefaultOptions, policy: limiter.DefaultPolicy}
	for _, o := range opts {
		o(&cfg)
	}

	key, err := channel.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	log := zaptest.NewLogger(t)
	store := memory.NewRecordStore()
	hasher := pkgcrypto.NewHasher(pkgcrypto.Params{Time: 1, MemoryKiB: 64})
	auth := service.NewAuthService(memory.NewUserStore(), hasher, []byte("test-signing-key"), time.Hour, limiter.NewMemory(cfg.policy))
	if _, err := auth.Register(context.Background(), "Bob", "Pomme"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if cfg.finder == nil {
		cfg.finder = store
	}
	if cfg.records == nil {
		cfg.records = service.NewRecordService(store)
	}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(auth, cfg.records, query.NewEngine(cfg.finder, cfg.batchSize, log), m)

	srv := New(cfg.opts, &key, d, m, log)
	return &env{key: key, store: store, auth: auth, metrics: m, d: d, srv: srv}
}

type testClient struct {
	t  *testing.T
	nc net.Conn
	pc *protocol.Conn
}

// dial connects a client over an in-memory pipe. The server goroutine is
// awaited during cleanup.
func (e *env) dial(t *testing.T) *testClient {
	t.Helper()
	cs, ss := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.srv.ServeConn(context.Background(), ss, 1)
	}()
	t.Cleanup(func() {
		_ = cs.Close()
		<-done
	})

	pc, err := protocol.NewConn(cs, &e.key, protocol.RoleClient, 0)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	return &testClient{t: t, nc: cs, pc: pc}
}

// dialTCP serves on a loopback listener, so writes are buffered by the
// kernel and several frames can be queued before the server reads any.
func (e *env) dialTCP(t *testing.T) *testClient {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- e.srv.Serve(ctx, ln) }()

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = nc.Close()
		cancel()
		<-served
	})
	pc, err := protocol.NewConn(nc, &e.key, protocol.RoleClient, 0)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	return &testClient{t: t, nc: nc, pc: pc}
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	_ = c.nc.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := c.pc.WriteMessage(msg); err != nil {
		c.t.Fatalf("send %s: %v", msg.Type(), err)
	}
}

func (c *testClient) recv() protocol.Message {
	c.t.Helper()
	_ = c.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := c.pc.ReadMessage()
	if err != nil {
		c.t.Fatalf("recv: %v", err)
	}
	return msg
}

func recvAs[T protocol.Message](c *testClient) T {
	c.t.Helper()
	msg := c.recv()
	v, ok := msg.(T)
	if !ok {
		c.t.Fatalf("got %s (%+v), want %T", msg.Type(), msg, v)
	}
	return v
}

// expectClosed asserts the server closed the connection without sending more.
func (c *testClient) expectClosed() {
	c.t.Helper()
	_ = c.nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := c.pc.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected closed connection, got %s", msg.Type())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.t.Fatalf("connection still open")
	}
}

func (c *testClient) login() string {
	c.t.Helper()
	c.send(protocol.ClientSetup{Version: protocol.Version, ClientName: "test"})
	c.send(protocol.ClientAuthentication{Username: "Bob", Password: "Pomme"})
	resp := recvAs[protocol.SingleValueResponse](c)
	if !resp.OK || len(resp.Value) == 0 {
		c.t.Fatalf("login failed: %+v", resp)
	}
	return string(resp.Value)
}

func (c *testClient) insert(collection string, usecases ...string) protocol.InsertResponse {
	c.t.Helper()
	c.send(protocol.Insertion{Collection: collection, Data: []byte(collection), Usecases: usecases})
	resp := recvAs[protocol.InsertResponse](c)
	if resp.Error != "" {
		c.t.Fatalf("insert: %s", resp.Error)
	}
	return resp
}

// queryAll sends q and collects every batch up to the last one.
func (c *testClient) queryAll(q query.Query) ([]protocol.Record, int) {
	c.t.Helper()
	c.send(protocol.QueryRequest{Query: q})
	var (
		out     []protocol.Record
		batches int
	)
	for {
		resp := recvAs[protocol.QueryResponse](c)
		batches++
		out = append(out, resp.Records...)
		if resp.Last {
			return out, batches
		}
	}
}
