package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tenantauth.org/internal/audit"
	"tenantauth.org/internal/auth"
	"tenantauth.org/internal/bootstrap"
	"tenantauth.org/internal/config"
	"tenantauth.org/internal/httpapi"
	"tenantauth.org/internal/migrate"
	"tenantauth.org/internal/obs"
	"tenantauth.org/internal/ratelimit"
	"tenantauth.org/internal/store/sqlstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("TENANTAUTH_CONFIG"), "Path to YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tenantauth: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	base, err := obs.NewLogger(cfg.Logging.Level, cfg.Logging.Format, nil)
	if err != nil {
		return err
	}
	logger := obs.ServiceLogger(base, httpapi.ServiceName)
	if cfg.UsingDevSecret {
		logger.Warn("JWT_SECRET not set; using development secret")
	}

	store, err := sqlstore.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if cfg.Database.AutoMigrate {
		mgr, err := migrate.ForDialect(store.DB(), store.Dialect())
		if err != nil {
			return err
		}
		applied, err := mgr.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.WithField("applied", applied).Info("migrations complete")
	}

	metrics := obs.NewMetrics()
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:    cfg.Auth.SecretKey,
		Algorithm: cfg.Auth.SigningAlgorithm,
		TTL:       cfg.TokenTTL(),
		Issuer:    cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	svc, err := auth.NewService(store, issuer,
		auth.WithHasher(hasher),
		auth.WithLogger(logger),
		auth.WithAuditRecorder(audit.NewRecorder(store, logger)),
		auth.WithLoginObserver(func(status string, role auth.Role) {
			metrics.ObserveLogin(status, role.String())
		}),
	)
	if err != nil {
		return err
	}

	if _, err := bootstrap.EnsureInitialAdmin(ctx, store, hasher,
		cfg.Bootstrap.InitialAdminUsername, cfg.Bootstrap.InitialAdminPassword, logger); err != nil {
		return err
	}

	limiter, redisClient, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	ready := httpapi.AllReady(store)
	if redisClient != nil {
		defer redisClient.Close()
		ready = httpapi.AllReady(store, httpapi.ReadyFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	api := httpapi.New(svc, httpapi.Options{
		Version:        obs.Version,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Limiter:        limiter,
		Metrics:        metrics,
		Logger:         logger,
		Ready:          ready,
		Audit:          store,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout(),
		ReadHeaderTimeout: cfg.ReadTimeout(),
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       cfg.IdleTimeout(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	grpcSrv := httpapi.NewGRPCServer(ready, logger)
	if addr := cfg.GRPCAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.WithField("addr", addr).Info("grpc server listening")
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// newLimiter selects the shared Redis limiter when an address is configured
// and the in-process limiter otherwise.
func newLimiter(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (ratelimit.Limiter, *redis.Client, error) {
	rl := cfg.RateLimit
	if rl.RedisAddr == "" {
		return ratelimit.NewMemory(rl.LoginAttempts, rl.Window, nil), nil, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := ratelimit.Dial(dialCtx, rl.RedisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	limiter, err := ratelimit.NewRedis(client, "", rl.LoginAttempts, rl.Window)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.WithField("redis_addr", rl.RedisAddr).Info("using redis login rate limiter")
	return limiter, client, nil
}
