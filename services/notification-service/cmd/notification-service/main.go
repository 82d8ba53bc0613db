package main

import (
	"context"
	"net/http"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/upachar/libs/config"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/httpx"
	"github.com/md-rashed-zaman/upachar/libs/inbox"
	"github.com/md-rashed-zaman/upachar/libs/kafkax"
	libmetrics "github.com/md-rashed-zaman/upachar/libs/metrics"
	otelx "github.com/md-rashed-zaman/upachar/libs/otel"
	"github.com/md-rashed-zaman/upachar/libs/outbox"
	"github.com/md-rashed-zaman/upachar/libs/runtime"
	"github.com/md-rashed-zaman/upachar/services/notification-service/internal/dispatch"
	"github.com/md-rashed-zaman/upachar/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/upachar/services/notification-service/internal/sms"
	"github.com/md-rashed-zaman/upachar/services/notification-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	loc, err := time.LoadLocation(config.String("CLINIC_TIMEZONE", "Asia/Kathmandu"))
	if err != nil {
		logger.Error("invalid CLINIC_TIMEZONE", "err", err)
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository()
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	var emailSender email.Sender = email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@upachar.local"),
	)
	if sg := email.NewSendGridSender(email.SendGridConfig{
		APIKey:    config.String("SENDGRID_API_KEY", ""),
		FromEmail: config.String("SENDGRID_FROM_EMAIL", config.String("SMTP_FROM", "")),
		FromName:  config.String("SENDGRID_FROM_NAME", "Upachar"),
	}); sg != nil {
		emailSender = email.NewFallbackSender(sg, emailSender)
		logger.Info("email via sendgrid with smtp fallback")
	}

	smsSender := sms.FromConfig(config.String("SMS_WEBHOOK_URL", ""), config.String("SMS_WEBHOOK_TOKEN", ""), config.String("SMS_SENDER_ID", "UPACHAR"))
	logger.Info("sms sender configured", "provider", smsSender.ProviderID())

	dispatcher := dispatch.New(storage.NewRepository(pool, outboxRepo), emailSender, smsSender, logger, loc)
	inboxRepo := inbox.NewRepository(pool, service)
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")

	handlers := dispatcher.Handlers()
	topics := make([]string, 0, len(handlers))
	for topic := range handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		consumer := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handlers[topic])
		go consumer.Run(ctx)
	}
	logger.Info("consumers started", "topics", topics)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpMetrics := libmetrics.NewHTTPMetrics(prometheus.DefaultRegisterer, service)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware,
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
