package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/config"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/libs/kafkax"
	libmetrics "github.com/md-rashed-zaman/upachar/libs/metrics"
	otelx "github.com/md-rashed-zaman/upachar/libs/otel"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/libs/runtime"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/handlers"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/otp"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/upachar/services/auth-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "auth-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

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
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}

	outboxRepo := outbox.NewRepository()
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	signer, err := buildSigner()
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		panic(err)
	}

	var limiter otp.Limiter = otp.Unlimited{}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		limiter = otp.NewRedisLimiter(rdb,
			config.Int("OTP_MAX_ATTEMPTS", 5),
			config.Duration("OTP_ATTEMPT_WINDOW", otp.TTL),
			config.String("OTP_ATTEMPT_PREFIX", "auth:otp"))
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("otp attempt limiter enabled (redis)", "redis_addr", addr)
	}

	authHandler := handlers.NewAuthHandler(handlers.Deps{
		Signer:     signer,
		Pool:       pool,
		Users:      storage.NewUserRepository(pool),
		Sessions:   sessions.NewRefreshRepository(pool),
		Outbox:     outboxRepo,
		Limiter:    limiter,
		Logger:     logger,
		AccessTTL:  config.Duration("ACCESS_TTL", time.Hour),
		RefreshTTL: time.Duration(config.Int("REFRESH_TTL_HOURS", 720)) * time.Hour,
	})
	mux := runtime.NewBaseMuxWithReady(checks...)
	authHandler.Register(mux)

	httpMetrics := libmetrics.NewHTTPMetrics(prometheus.DefaultRegisterer, service)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware,
	)
	handler = otelhttp.NewHandler(handler, "auth")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// buildSigner prefers an RS256 key set, then a single RS256 key, then the shared HS256 secret.
func buildSigner() (handlers.TokenSigner, error) {
	if pems := config.String("JWT_PRIVATE_KEYS_PEM", ""); pems != "" {
		keys, err := handlers.ParseRS256KeySet(pems)
		if err != nil {
			return nil, err
		}
		signer, err := handlers.NewKeySetSigner(keys, config.String("JWT_ACTIVE_KID", ""))
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	if pem := config.String("JWT_PRIVATE_KEY_PEM", ""); pem != "" {
		return handlers.NewRS256Signer([]byte(pem), config.String("JWT_KID", ""))
	}
	return handlers.NewHS256Signer(config.String("JWT_SECRET", "dev-secret")), nil
}
