package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-booking/cmd/mainconfig"
	"github.com/wolfman30/medspa-booking/internal/api/router"
	"github.com/wolfman30/medspa-booking/internal/appointments"
	"github.com/wolfman30/medspa-booking/internal/audit"
	"github.com/wolfman30/medspa-booking/internal/catalog"
	appconfig "github.com/wolfman30/medspa-booking/internal/config"
	"github.com/wolfman30/medspa-booking/internal/events"
	"github.com/wolfman30/medspa-booking/internal/notify"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

// connectPostgresPool returns nil when no URL is configured or the database is unreachable.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("connected to postgres")
	return pool
}

// connectRedis keeps the client even when the first ping fails; its users degrade
// gracefully and redis may come back.
func connectRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed", "addr", cfg.RedisAddr, "error", err)
	}
	return client
}

type awsClients struct {
	dynamo *dynamodb.Client
	sqs    *sqs.Client
	ses    *sesv2.Client
}

// newAWSClients returns nil when nothing configured talks to AWS.
func newAWSClients(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *awsClients {
	if !mainconfig.NeedsAWS(cfg) {
		return nil
	}
	a, err := mainconfig.LoadAWS(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		return nil
	}
	return &awsClients{
		dynamo: a.DynamoDB(),
		sqs:    a.SQS(),
		ses:    a.SES(),
	}
}

func defaultMenu() []catalog.Treatment {
	return []catalog.Treatment{
		{ID: "botox", Name: "Botox", DurationMinutes: 30, PriceCents: 35000, Active: true},
		{ID: "lip-filler", Name: "Lip Filler", DurationMinutes: 45, PriceCents: 65000, Active: true},
		{ID: "hydrafacial", Name: "HydraFacial", DurationMinutes: 60, PriceCents: 20000, Active: true},
		{ID: "consult", Name: "Consultation", DurationMinutes: 15, PriceCents: 0, Active: true},
	}
}

func setupCatalog(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (catalog.Store, error) {
	var lookup catalog.Store
	switch cfg.CatalogBackend {
	case "gorm":
		db, err := catalog.OpenGorm(cfg.CatalogDriver, cfg.CatalogDSN)
		if err != nil {
			return nil, err
		}
		store := catalog.NewGormCatalog(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("catalog migrate: %w", err)
		}
		lookup = store
	default:
		lookup = catalog.NewInMemoryCatalog(defaultMenu()...)
	}
	if redisClient != nil {
		lookup = catalog.NewCachedLookup(lookup, redisClient, cfg.CatalogCacheTTL, logger.Component("catalog"))
	}
	return lookup, nil
}

func setupLedger(cfg *appconfig.Config, pool *pgxpool.Pool, clients *awsClients, logger *logging.Logger) (appointments.Ledger, error) {
	switch cfg.LedgerBackend {
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres ledger: database unavailable")
		}
		return appointments.NewPostgresLedger(pool), nil
	case "dynamodb":
		if clients == nil {
			return nil, fmt.Errorf("dynamodb ledger: AWS config unavailable")
		}
		return appointments.NewDynamoLedger(clients.dynamo, cfg.DynamoDBTable, logger.Component("ledger")), nil
	default:
		logger.Warn("using in-memory ledger; appointments are lost on restart")
		return appointments.NewInMemoryLedger(), nil
	}
}

type auditTrail struct {
	db *sql.DB
	*audit.Trail
}

// setupAuditTrail opens a database/sql handle through lib/pq for the audit table.
func setupAuditTrail(url string, logger *logging.Logger) *auditTrail {
	if url == "" {
		return nil
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		logger.Warn("audit trail disabled", "error", err)
		return nil
	}
	return &auditTrail{db: db, Trail: audit.NewTrail(db)}
}

func setupEmailSender(cfg *appconfig.Config, clients *awsClients, logger *logging.Logger) notify.EmailSender {
	switch {
	case cfg.EmailProvider == "ses" && clients != nil:
		return notify.NewSESSender(clients.ses, notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
	case cfg.EmailProvider == "sendgrid" && cfg.SendGridAPIKey != "":
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
	default:
		logger.Warn("email provider not configured; notifications are logged only", "provider", cfg.EmailProvider)
		return notify.NewStubEmailSender(logger)
	}
}

func setupReconcilePublisher(cfg *appconfig.Config, clients *awsClients) *events.SQSPublisher {
	if cfg.ReconcileQueueURL == "" || clients == nil {
		return nil
	}
	return events.NewSQSPublisher(clients.sqs, cfg.ReconcileQueueURL)
}

// setupVerifier leaves unconfigured providers nil so MultiVerifier fails them closed.
func setupVerifier(cfg *appconfig.Config, logger *logging.Logger) payments.Verifier {
	var stripeVerifier, squareVerifier payments.Verifier
	if cfg.StripeSecretKey != "" {
		stripeVerifier = payments.NewStripeVerifier(cfg.StripeSecretKey)
	}
	if cfg.SquareAccessToken != "" {
		squareVerifier = payments.NewSquareVerifier(cfg.SquareAccessToken).WithBaseURL(cfg.SquareBaseURL)
	}
	return payments.NewMultiVerifier(stripeVerifier, squareVerifier, logger.Component("payments"))
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]router.Pinger {
	checks := map[string]router.Pinger{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}
