package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medspa-booking/cmd/mainconfig"
	appconfig "github.com/wolfman30/medspa-booking/internal/config"
	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/internal/observability/tracing"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// outbox-relay drains the outbox table into Kafka or SQS.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("outbox-relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "medspa-booking-outbox-relay",
		OTLPEndpoint: cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	handler, closeTransport, err := newTransport(ctx, cfg, func(ctx context.Context) (*sqs.Client, error) {
		a, err := mainconfig.LoadAWS(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a.SQS(), nil
	})
	if err != nil {
		logger.Error("failed to set up transport", "error", err)
		os.Exit(1)
	}
	defer closeTransport()

	reg := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(reg)
	metricsSrv := &http.Server{Addr: ":" + cfg.Port, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), handler, logger).
		WithInterval(cfg.OutboxInterval).
		WithMetrics(bookingMetrics)
	logger.Info("outbox relay started", "transport", cfg.EventTransport, "interval", cfg.OutboxInterval)
	deliverer.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	logger.Info("outbox relay stopped")
}

type sqsFactory func(ctx context.Context) (*sqs.Client, error)

// newTransport picks the delivery handler for EVENT_TRANSPORT. "none" is an error here.
func newTransport(ctx context.Context, cfg *appconfig.Config, newSQS sqsFactory) (events.DeliveryHandler, func(), error) {
	switch cfg.EventTransport {
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, errors.New("KAFKA_BROKERS is required for kafka transport")
		}
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		return pub, func() { _ = pub.Close() }, nil
	case "sqs":
		if cfg.EventsQueueURL == "" {
			return nil, nil, errors.New("EVENTS_QUEUE_URL is required for sqs transport")
		}
		client, err := newSQS(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("aws config: %w", err)
		}
		return events.NewSQSPublisher(client, cfg.EventsQueueURL), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported EVENT_TRANSPORT %q", cfg.EventTransport)
	}
}
