package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/upachar/libs/access"
	"github.com/md-rashed-zaman/upachar/libs/config"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/libs/kafkax"
	libmetrics "github.com/md-rashed-zaman/upachar/libs/metrics"
	otelx "github.com/md-rashed-zaman/upachar/libs/otel"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/libs/runtime"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/payment"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/upachar/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	loc, err := time.LoadLocation(config.String("CLINIC_TIMEZONE", "Asia/Kathmandu"))
	if err != nil {
		logger.Error("invalid CLINIC_TIMEZONE", "err", err)
		panic(err)
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
	bookingMetrics := metrics.New(prometheus.DefaultRegisterer)

	var templates booking.TemplateSource = repo
	var paymentOpts []payment.Option
	if addr := config.String("DIRECTORY_GRPC_ADDR", ""); addr != "" {
		provider, closeConn, err := scheduling.Dial(addr, repo, logger)
		if err != nil {
			logger.Error("directory provider init failed; using database", "err", err)
		} else {
			defer func() { _ = closeConn() }()
			templates = provider
			paymentOpts = append(paymentOpts, payment.WithFeeSource(provider))
		}
	}

	var stripeGateway *payment.StripeGateway
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		stripeGateway = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:        key,
			WebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
			WebhookTolerance: config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			Currency:         config.String("STRIPE_CURRENCY", "npr"),
			SuccessURL:       config.String("STRIPE_SUCCESS_URL", "http://localhost:5173/payment-success"),
			CancelURL:        config.String("STRIPE_CANCEL_URL", "http://localhost:5173/payment-failure"),
		})
		paymentOpts = append(paymentOpts, payment.WithCardGateway(stripeGateway))
		logger.Info("stripe card payments enabled")
	}
	paymentOpts = append(paymentOpts, payment.WithMetrics(bookingMetrics))

	payments := payment.NewService(repo, payment.EsewaConfig{
		SecretKey:             config.String("ESEWA_SECRET_KEY", payment.DefaultEsewaSecret),
		ProductCode:           config.String("ESEWA_PRODUCT_CODE", payment.DefaultEsewaProductCode),
		FormURL:               config.String("ESEWA_FORM_URL", payment.DefaultEsewaFormURL),
		SuccessURL:            config.String("ESEWA_SUCCESS_URL", "http://localhost:5173/payment-success"),
		FailureURL:            config.String("ESEWA_FAILURE_URL", "http://localhost:5173/payment-failure"),
		RequireSignedCallback: config.Bool("ESEWA_REQUIRE_SIGNED_CALLBACK", false),
	}, paymentOpts...)

	if stripeGateway != nil && config.Bool("STRIPE_RECONCILE_ENABLED", true) {
		reconciler := payment.NewReconciler(payments, repo, stripeGateway, pool, logger, payment.ReconcilerConfig{
			MinAge:          config.Duration("STRIPE_RECONCILE_MIN_AGE", 30*time.Minute),
			BatchSize:       config.Int("STRIPE_RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: int64(config.Int("STRIPE_RECONCILE_LOCK_KEY", 4242001)),
		})
		go reconciler.Run(ctx, config.Duration("STRIPE_RECONCILE_INTERVAL", 5*time.Minute))
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	h := handlers.New(handlers.Deps{
		Engine:    booking.NewEngine(repo, templates, loc, booking.WithMetrics(bookingMetrics)),
		Payments:  payments,
		Lifecycle: lifecycle.NewManager(repo, bookingMetrics),
		Queries:   repo,
		Resolver:  access.NewResolver(access.NewSQLLookup(pool)),
		Logger:    logger,
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	h.Register(mux)

	httpMetrics := libmetrics.NewHTTPMetrics(prometheus.DefaultRegisterer, service)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
