package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pribylovaa/portal-auth/internal/cache"
	"github.com/pribylovaa/portal-auth/internal/config"
	"github.com/pribylovaa/portal-auth/internal/mailer"
	"github.com/pribylovaa/portal-auth/internal/password"
	"github.com/pribylovaa/portal-auth/internal/ratelimit"
	"github.com/pribylovaa/portal-auth/internal/service"
	"github.com/pribylovaa/portal-auth/internal/storage"
	"github.com/pribylovaa/portal-auth/internal/storage/postgres"
	"github.com/pribylovaa/portal-auth/internal/token"
	authgrpc "github.com/pribylovaa/portal-auth/internal/transport/grpc"
	authhttp "github.com/pribylovaa/portal-auth/internal/transport/http"
	"github.com/pribylovaa/portal-auth/internal/transport/http/handlers"
	"github.com/pribylovaa/portal-auth/pkg/interceptors"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const (
	revocationJanitorPeriod = 30 * time.Minute
	mailHTTPTimeout         = 10 * time.Second
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	dbCancel()
	if err != nil {
		return err
	}
	defer str.Close()
	log.Info("postgres_connected")

	// Redis необязателен: без него список отзыва живёт в PostgreSQL.
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = cache.Connect(redisCtx, cfg.Redis.RedisURL)
		redisCancel()
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		log.Info("redis_connected")
	}

	tokens, err := token.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	hasher, err := password.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	// Сервис.
	srvc := service.New(str, tokens, hasher, cfg.Auth)

	var revocations storage.RevocationStorage = str
	if rdb != nil {
		revocations = cache.NewRevocations(rdb, cfg.Redis.Prefix)
	}
	srvc.SetRevocations(revocations)

	if cfg.Mail.ResendAPIKey != "" {
		srvc.SetMailer(mailer.NewResendSender(cfg.Mail.ResendAPIKey, cfg.Mail.From, cfg.Mail.AppURL,
			&http.Client{Timeout: mailHTTPTimeout}))
		log.Info("mailer_resend_enabled")
	}
	log.Info("service_initialized", slog.Bool("redis", rdb != nil))

	limiter, closeLimiter := setupLimiter(cfg, rdb, log)
	defer closeLimiter()

	var ready atomic.Bool

	checks := map[string]handlers.Checker{
		"postgres": str.Ping,
		"ready": func(context.Context) error {
			if !ready.Load() {
				return errors.New("not ready")
			}
			return nil
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: authhttp.NewRouter(srvc, authhttp.Options{
			Logger:        log,
			Timeout:       cfg.Timeouts.Service,
			Limiter:       limiter,
			TrustProxy:    cfg.RateLimit.TrustProxy,
			Health:        checks,
			HealthTimeout: 2 * time.Second,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	grpc_prometheus.EnableHandlingTimeHistogram()

	// gRPC-сервер и интерсепторы.
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.Recover(log),
			interceptors.UnaryLoggingInterceptor(log),
			interceptors.RateLimit(limiter, authgrpc.RateLimitClass, cfg.RateLimit.TrustProxy),
			interceptors.WithTimeout(cfg.Timeouts.Service),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	authgrpc.RegisterAuthServiceServer(grpcServer, authgrpc.NewAuthServer(srvc))

	// Рефлексия — только в local/dev.
	if cfg.Env == envLocal || cfg.Env == envDev {
		reflection.Register(grpcServer)
	}

	startRevocationJanitor(ctx, revocations, log, revocationJanitorPeriod)

	listener, err := net.Listen("tcp", cfg.GRPC.Addr())
	if err != nil {
		_ = httpSrv.Close()
		return err
	}
	log.Info("grpc_listen_start", slog.String("addr", cfg.GRPC.Addr()))

	grpc_prometheus.Register(grpcServer)

	// Сервис готов: health -> SERVING и readiness.
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(authgrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	ready.Store(true)

	grpcErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			grpcErrCh <- err
		}
		close(grpcErrCh)
	}()

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-grpcErrCh:
		log.Error("grpc_serve_failed", slog.Any("err", serveErr))
	case serveErr = <-httpErrCh:
		log.Error("http_serve_failed", slog.Any("err", serveErr))
	}

	hs.Shutdown()
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc_stopped")
	case <-shutdownCtx.Done():
		log.Warn("grpc_force_stop")
		grpcServer.Stop()
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", slog.String("err", err.Error()))
	}

	return serveErr
}

// setupLimiter выбирает хранилище бакетов по конфигурации.
// Возвращает nil-лимитер, если ограничение выключено.
func setupLimiter(cfg *config.Config, rdb *redis.Client, log *slog.Logger) (*ratelimit.Limiter, func()) {
	if cfg.RateLimit.Disabled {
		log.Warn("rate_limit_disabled")
		return nil, func() {}
	}

	if cfg.RateLimit.Store == "redis" && rdb != nil {
		log.Info("rate_limit_store", slog.String("store", "redis"))
		store := ratelimit.NewRedisStore(rdb, cfg.Redis.Prefix+"rl:")
		return ratelimit.New(store, ratelimit.Policies(cfg.RateLimit)), func() {}
	}

	log.Info("rate_limit_store", slog.String("store", "memory"))
	store := ratelimit.NewMemoryStore()
	return ratelimit.New(store, ratelimit.Policies(cfg.RateLimit)), func() { _ = store.Close() }
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// startRevocationJanitor периодически удаляет из списка отзыва записи,
// пережившие отзываемые токены.
func startRevocationJanitor(ctx context.Context, revocations storage.RevocationStorage, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := revocations.DeleteExpired(ctx, time.Now().UTC()); err != nil {
					log.Error("revocation_janitor_failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}
