package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/examinerops/libs/auth"
	"github.com/md-rashed-zaman/examinerops/libs/config"
	"github.com/md-rashed-zaman/examinerops/libs/db"
	"github.com/md-rashed-zaman/examinerops/libs/grpcx"
	"github.com/md-rashed-zaman/examinerops/libs/httpx"
	"github.com/md-rashed-zaman/examinerops/libs/kafkax"
	otelx "github.com/md-rashed-zaman/examinerops/libs/otel"
	"github.com/md-rashed-zaman/examinerops/libs/runtime"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/policy"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/storage"
)

const grpcHealthService = "examinerops.scheduling"

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "scheduling-service")
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	if err := run(ctx, service, logger); err != nil {
		logger.Error("scheduling-service exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8084")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9094")
	if err != nil {
		return err
	}

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var checks []runtime.ReadyCheck

	repo, pool, err := openRepository(ctx, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	authn, err := newAuthenticator()
	if err != nil {
		return err
	}

	schedCfg, err := loadSchedulingConfig()
	if err != nil {
		return err
	}
	var (
		provider    = policy.NewStaticProvider(schedCfg)
		rateLimiter httpx.Middleware
	)
	rateLimit, err := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if err != nil {
		return err
	}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: config.String("REDIS_PASSWORD", "")})
		defer rdb.Close()
		provider = policy.NewRedisProvider(rdb, schedCfg, logger)
		rateLimiter = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, "rl:scheduling").
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("redis enabled", "addr", addr)
	} else {
		rateLimiter = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{Logger: logger}
	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		writer := notify.NewKafkaWriter(brokers)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("kafka writer close failed", "err", err)
			}
		}()
		dispatcher = notify.NewKafkaDispatcher(writer)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; notifications are only logged")
	}

	notifyTimeout, err := config.Duration("NOTIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := booking.NewService(repo, authn, provider, dispatcher, metrics.New(reg), logger, booking.Config{
		AdminEmail:    config.String("ADMIN_EMAIL", ""),
		NotifyTimeout: notifyTimeout,
	})
	// Let in-flight notifications finish before the Kafka writer closes.
	defer svc.Wait()

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handlers.NewSlotHandler(svc, provider, logger).Register(mux)

	requestTimeout, err := config.Duration("HTTP_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return err
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "Accept-Language", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		rateLimiter,
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(requestTimeout),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "scheduling"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	health.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		grpcSrv.GracefulStop()
		logger.Info("servers stopped")
		return nil
	})
	return g.Wait()
}

// openRepository connects to Postgres and applies migrations. Without
// DATABASE_URL it falls back to the in-memory store, which loses all state
// on restart.
func openRepository(ctx context.Context, logger *slog.Logger) (booking.Repository, *db.Pool, error) {
	dbURL := config.String("DATABASE_URL", "")
	if dbURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
		return storage.NewMemory(), nil, nil
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.Open(ctx, dbURL, db.PoolOptions{MaxConns: int32(maxConns), ApplicationName: "scheduling-service"})
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if config.Bool("DB_MIGRATE", true) {
		if err := db.Migrate(ctx, pool, storage.Migrations, storage.MigrationsDir, storage.VersionTable, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return storage.NewPostgres(pool), pool, nil
}

func newAuthenticator() (auth.TokenAuthenticator, error) {
	issuer := config.String("TOKEN_ISSUER", "examinerops")
	audience := config.String("TOKEN_AUDIENCE", "interview-scheduling")
	if url := config.String("JWKS_URL", ""); url != "" {
		return auth.NewJWKSAuthenticator(auth.NewJWKSClient(url, 10*time.Minute), issuer, audience), nil
	}
	secret, err := config.RequiredString("TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	authn, err := auth.NewHS256Authenticator(auth.HS256Config{Secret: secret, Issuer: issuer, Audience: audience})
	if err != nil {
		return nil, err
	}
	return authn, nil
}

func loadSchedulingConfig() (policy.SchedulingConfig, error) {
	def := policy.DefaultConfig()
	var cfg policy.SchedulingConfig
	var err error
	if cfg.StartMinuteUTC, err = config.Int("WORKING_START_MINUTE_UTC", def.StartMinuteUTC); err != nil {
		return cfg, err
	}
	if cfg.EndMinuteUTC, err = config.Int("WORKING_END_MINUTE_UTC", def.EndMinuteUTC); err != nil {
		return cfg, err
	}
	if cfg.MinDaysAhead, err = config.Int("MIN_DAYS_AHEAD", def.MinDaysAhead); err != nil {
		return cfg, err
	}
	if cfg.MaxDaysAhead, err = config.Int("MAX_DAYS_AHEAD", def.MaxDaysAhead); err != nil {
		return cfg, err
	}
	if cfg.DurationOptions, err = config.IntList("DURATION_OPTIONS_MINUTES", def.DurationOptions); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
