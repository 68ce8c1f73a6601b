package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/examinerops/libs/config"
	"github.com/md-rashed-zaman/examinerops/libs/db"
	"github.com/md-rashed-zaman/examinerops/libs/httpx"
	"github.com/md-rashed-zaman/examinerops/libs/kafkax"
	otelx "github.com/md-rashed-zaman/examinerops/libs/otel"
	"github.com/md-rashed-zaman/examinerops/libs/runtime"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/processor"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/templates"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "notification-service")
	logger := runtime.NewLogger(service)
	port, err := config.Port("PORT", "8085")
	if err != nil {
		logger.Error("invalid port", "err", err)
		os.Exit(1)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("missing config", "err", err)
		os.Exit(1)
	}
	pool, err := db.Open(ctx, dbURL, db.PoolOptions{ApplicationName: service})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, storage.Migrations, storage.MigrationsDir, storage.VersionTable, logger); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		logger.Error("templates failed to parse", "err", err)
		os.Exit(1)
	}
	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:     config.String("SMTP_HOST", "mailpit"),
		Port:     config.String("SMTP_PORT", "1025"),
		From:     config.String("SMTP_FROM", "no-reply@examinerops.local"),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	proc := processor.New(renderer, sender, storage.NewRepository(pool), logger, reg, processor.Config{
		FailSuffix: config.String("NOTIFICATION_FAIL_SUFFIX", ""),
	})

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "notification.email.requested.v1"),
	}, proc.Handle)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		eventConsumer.Run(ctx)
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, "/healthz", "/readyz", "/metrics"),
		httpx.WithRecover(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "notification"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	<-consumerDone
	logger.Info("http server stopped")
}
