// Command sealdb-server serves the sealdb encrypted record store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/sealdb/internal/channel"
	"github.com/and161185/sealdb/internal/config"
	pkgcrypto "github.com/and161185/sealdb/internal/crypto"
	"github.com/and161185/sealdb/internal/errs"
	"github.com/and161185/sealdb/internal/limiter"
	"github.com/and161185/sealdb/internal/metrics"
	"github.com/and161185/sealdb/internal/migrate"
	"github.com/and161185/sealdb/internal/query"
	"github.com/and161185/sealdb/internal/repository"
	"github.com/and161185/sealdb/internal/repository/memory"
	"github.com/and161185/sealdb/internal/repository/postgres"
	"github.com/and161185/sealdb/internal/server"
	"github.com/and161185/sealdb/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration and runs the server until SIGINT or SIGTERM.
func main() {
	fs := pflag.NewFlagSet("sealdb-server", pflag.ContinueOnError)
	genKey := fs.Bool("gen-key", false, "generate key_file if it does not exist")
	cfg, err := config.Parse(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Log.Development {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *genKey, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, genKey bool, logger *zap.Logger) error {
	key, err := loadKey(cfg.KeyFile, genKey, logger)
	if err != nil {
		return err
	}

	st, err := openStorage(ctx, cfg.Storage, limiter.Policy{
		MaxFailures: cfg.Auth.MaxFailures,
		Window:      cfg.Auth.Window,
		BlockFor:    cfg.Auth.BlockFor,
	}, logger)
	if err != nil {
		return err
	}
	defer st.close()

	signKey := []byte(cfg.Auth.SigningKey)
	if len(signKey) == 0 {
		logger.Warn("no auth.signing_key configured; session tokens will not survive a restart")
		if signKey, err = pkgcrypto.RandBytes(32); err != nil {
			return err
		}
	}
	authSvc := service.NewAuthService(st.users, pkgcrypto.NewHasher(pkgcrypto.DefaultParams), signKey, cfg.Auth.TokenTTL, st.limiter)
	if err := seedUsers(ctx, authSvc, cfg.Auth.Users, logger); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := query.NewEngine(st.finder, cfg.Query.BatchSize, logger.Named("query"))
	d := server.NewDispatcher(authSvc, service.NewRecordService(st.records), engine, m)
	srv := server.New(server.Options{
		IdleTimeout:   cfg.Server.IdleTimeout,
		UnauthTimeout: cfg.Server.UnauthTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MaxFrame:      cfg.Server.MaxFrame,
		ReplyBuffer:   server.DefaultOptions.ReplyBuffer,
	}, &key, d, m, logger.Named("server"))

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	var hln net.Listener
	if cfg.Server.HealthAddr != "" {
		if hln, err = net.Listen("tcp", cfg.Server.HealthAddr); err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen health: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	if hln != nil {
		h := server.NewHealth(logger.Named("health"))
		h.SetServing(true)
		g.Go(func() error { return h.Serve(gctx, hln) })
	}
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, m, logger) })
	}

	return g.Wait()
}

// loadKey reads the shared key, creating it first when asked to.
func loadKey(path string, generate bool, logger *zap.Logger) (channel.Key, error) {
	key, err := channel.LoadKey(path)
	if err == nil || !generate || !errors.Is(err, os.ErrNotExist) {
		return key, err
	}
	if key, err = channel.GenerateKey(); err != nil {
		return channel.Key{}, err
	}
	if err := channel.SaveKey(key, path); err != nil {
		return channel.Key{}, err
	}
	logger.Info("generated new key", zap.String("path", path))
	return key, nil
}

type storage struct {
	users   repository.UserRepository
	records repository.RecordRepository
	finder  query.Finder
	limiter limiter.Limiter
	close   func()
}

func openStorage(ctx context.Context, cfg config.StorageConfig, policy limiter.Policy, logger *zap.Logger) (*storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		records := postgres.NewRecordRepo(db)
		return &storage{
			users:   postgres.NewUserRepo(db),
			records: records,
			finder:  records,
			limiter: limiter.NewPG(db.Pool, policy),
			close:   db.Close,
		}, nil
	default:
		logger.Warn("using in-memory storage; records are lost on exit")
		records := memory.NewRecordStore()
		return &storage{
			users:   memory.NewUserStore(),
			records: records,
			finder:  records,
			limiter: limiter.NewMemory(policy),
			close:   func() {},
		}, nil
	}
}

// seedUsers creates configured accounts that do not exist yet.
func seedUsers(ctx context.Context, auth *service.AuthServiceImpl, users []config.UserConfig, logger *zap.Logger) error {
	for _, u := range users {
		id, err := auth.Register(ctx, u.Username, u.Password)
		switch {
		case errors.Is(err, errs.ErrAlreadyExists):
			logger.Debug("user exists", zap.String("user", u.Username))
		case err != nil:
			return fmt.Errorf("seed user %q: %w", u.Username, err)
		default:
			logger.Info("user created", zap.String("user", u.Username), zap.Stringer("id", id))
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	})
	defer stop()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
