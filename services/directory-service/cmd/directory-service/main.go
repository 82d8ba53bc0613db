package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/config"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	libmetrics "github.com/md-rashed-zaman/upachar/libs/metrics"
	otelx "github.com/md-rashed-zaman/upachar/libs/otel"
	"github.com/md-rashed-zaman/upachar/libs/runtime"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/cache"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/classifier"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/handlers"
	"github.com/md-rashed-zaman/upachar/services/directory-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "directory-service")
	port, err := config.Port("PORT", "8082")
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

	repo := storage.NewRepository(pool)
	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	deps := handlers.Deps{
		Catalog:  repo,
		Roster:   repo,
		Resolver: access.NewResolver(access.NewSQLLookup(pool)),
		Logger:   logger,
	}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		catalog := cache.NewCatalog(repo, rdb,
			config.Duration("CATALOG_CACHE_TTL", 5*time.Minute),
			config.String("CATALOG_CACHE_PREFIX", "directory:catalog"),
			logger)
		deps.Catalog = catalog
		deps.Cache = catalog
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("catalog cache enabled (redis)", "redis_addr", addr)
	}

	keywords := classifier.NewKeywords(nil)
	deps.Classifier = keywords
	if url := config.String("CLASSIFIER_URL", ""); url != "" {
		remote := classifier.NewRemote(url, config.Duration("CLASSIFIER_TIMEOUT", 5*time.Second))
		deps.Classifier = classifier.WithFallback(remote, keywords, logger)
		logger.Info("specialty classifier enabled", "url", url)
	}

	h := handlers.New(deps)
	mux := runtime.NewBaseMuxWithReady(checks...)
	h.Register(mux)

	httpMetrics := libmetrics.NewHTTPMetrics(prometheus.DefaultRegisterer, service)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware,
	)
	handler = otelhttp.NewHandler(handler, "directory")
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

	if err := startGrpcServer(ctx, logger, repo); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
