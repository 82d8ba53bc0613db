package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/auth"
	"github.com/md-rashed-zaman/upachar/libs/config"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	libmetrics "github.com/md-rashed-zaman/upachar/libs/metrics"
	otelx "github.com/md-rashed-zaman/upachar/libs/otel"
	"github.com/md-rashed-zaman/upachar/libs/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
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

	verifier := auth.Verifier{Secret: config.String("JWT_SECRET", "dev-secret")}
	if jwksURL := config.String("JWKS_URL", ""); jwksURL != "" {
		verifier.JWKS = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
		logger.Info("rs256 verification enabled", "jwks_url", jwksURL)
	}

	mux := runtime.NewBaseMuxWithReady()
	upstreams := upstreamsFromEnv()
	if err := registerRoutes(mux, upstreams, verifier, logger); err != nil {
		logger.Error("invalid upstream configuration", "err", err)
		panic(err)
	}

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	authPerMinute := config.Int("RATE_LIMIT_AUTH_PER_MINUTE", 10)
	var general, attempts httpx.Limiter
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		prefix := config.String("RATE_LIMIT_PREFIX", "rl")
		general = httpx.NewRedisLimiter(rdb, limitPerMinute, time.Minute, prefix)
		attempts = httpx.NewRedisLimiter(rdb, authPerMinute, time.Minute, prefix+":auth")
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "auth_per_minute", authPerMinute, "redis_addr", addr)
	} else {
		general = httpx.NewMemoryLimiter(limitPerMinute, time.Minute)
		attempts = httpx.NewMemoryLimiter(authPerMinute, time.Minute)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute, "auth_per_minute", authPerMinute)
	}
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)

	httpMetrics := libmetrics.NewHTTPMetrics(prometheus.DefaultRegisterer, service)
	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id"),
			ExposedHeaders:   httpx.DefaultExposedHeaders,
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware,
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
		httpx.RateLimit(general, httpx.RateLimitConfig{FailOpen: failOpen, Logger: logger}),
		httpx.RateLimit(attempts, httpx.RateLimitConfig{Key: authAttemptKey, FailOpen: failOpen, Logger: logger}),
	)
	handler = otelhttp.NewHandler(handler, "gateway")
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

func upstreamsFromEnv() map[string]string {
	return map[string]string{
		upstreamAuth:      config.String("AUTH_URL", "http://auth-service:8081"),
		upstreamDirectory: config.String("DIRECTORY_URL", "http://directory-service:8082"),
		upstreamBooking:   config.String("BOOKING_URL", "http://booking-service:8083"),
	}
}
