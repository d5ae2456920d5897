package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/medspa-booking/internal/scheduling"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Ledger
	LedgerBackend string // memory | postgres | dynamodb
	DatabaseURL   string
	DynamoDBTable string

	// Catalog
	CatalogBackend  string // memory | gorm
	CatalogDriver   string // postgres | sqlite
	CatalogDSN      string
	CatalogCacheTTL time.Duration

	RedisAddr     string
	RedisPassword string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Clinic schedule
	ClinicName       string
	ClinicTimezone   string
	ClinicOpen       string
	ClinicClose      string
	ClinicLunchStart string
	ClinicLunchEnd   string
	SlotStepMinutes  int
	ClinicClosedDays []string

	BookingTimeout        time.Duration
	AvailabilityCacheSize int
	AvailabilityCacheTTL  time.Duration

	// Payments
	StripeSecretKey           string
	StripeWebhookSecret       string
	SquareAccessToken         string
	SquareBaseURL             string
	SquareWebhookSignatureKey string
	SquareWebhookURL          string

	// Email
	EmailProvider     string // sendgrid | ses
	SendGridAPIKey    string
	EmailFrom         string
	EmailFromName     string
	StaffNotifyEmails []string
	NotifyTimeout     time.Duration

	// HTTP
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Events
	EventTransport    string // none | kafka | sqs
	KafkaBrokers      []string
	KafkaTopicPrefix  string
	EventsQueueURL    string
	ReconcileQueueURL string
	OutboxInterval    time.Duration

	// Tracing
	OTelEnabled  bool
	OTelEndpoint string
}

// Load reads configuration from environment variables. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", "memory")),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DynamoDBTable: getEnv("DYNAMODB_TABLE", "appointments"),

		CatalogBackend:  strings.ToLower(getEnv("CATALOG_BACKEND", "memory")),
		CatalogDriver:   strings.ToLower(getEnv("CATALOG_DRIVER", "postgres")),
		CatalogDSN:      getEnv("CATALOG_DSN", ""),
		CatalogCacheTTL: getEnvAsDuration("CATALOG_CACHE_TTL", 5*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ClinicName:       getEnv("CLINIC_NAME", "MedSpa"),
		ClinicTimezone:   getEnv("CLINIC_TIMEZONE", "America/New_York"),
		ClinicOpen:       getEnv("CLINIC_OPEN", "09:00"),
		ClinicClose:      getEnv("CLINIC_CLOSE", "18:00"),
		ClinicLunchStart: getEnv("CLINIC_LUNCH_START", "12:00"),
		ClinicLunchEnd:   getEnv("CLINIC_LUNCH_END", "13:00"),
		SlotStepMinutes:  getEnvAsInt("SLOT_STEP_MINUTES", scheduling.DefaultStepMinutes),
		ClinicClosedDays: getEnvAsList("CLINIC_CLOSED_DAYS"),

		BookingTimeout:        getEnvAsDuration("BOOKING_TIMEOUT", 10*time.Second),
		AvailabilityCacheSize: getEnvAsInt("AVAILABILITY_CACHE_SIZE", 256),
		AvailabilityCacheTTL:  getEnvAsDuration("AVAILABILITY_CACHE_TTL", 30*time.Second),

		StripeSecretKey:           getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:       getEnv("STRIPE_WEBHOOK_SECRET", ""),
		SquareAccessToken:         getEnv("SQUARE_ACCESS_TOKEN", ""),
		SquareBaseURL:             getEnv("SQUARE_BASE_URL", ""),
		SquareWebhookSignatureKey: getEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", ""),
		SquareWebhookURL:          getEnv("SQUARE_WEBHOOK_URL", ""),

		EmailProvider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "sendgrid")),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:         getEnv("EMAIL_FROM", ""),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "MedSpa Booking"),
		StaffNotifyEmails: getEnvAsList("STAFF_NOTIFY_EMAILS"),
		NotifyTimeout:     getEnvAsDuration("NOTIFY_TIMEOUT", 15*time.Second),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		EventTransport:    strings.ToLower(getEnv("EVENT_TRANSPORT", "none")),
		KafkaBrokers:      getEnvAsList("KAFKA_BROKERS"),
		KafkaTopicPrefix:  getEnv("KAFKA_TOPIC_PREFIX", ""),
		EventsQueueURL:    getEnv("EVENTS_QUEUE_URL", ""),
		ReconcileQueueURL: getEnv("RECONCILE_QUEUE_URL", ""),
		OutboxInterval:    getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),

		OTelEnabled:  getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// Validate reports settings that would leave the service half-wired.
func (c *Config) Validate() error {
	var errs []error
	switch c.LedgerBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: DATABASE_URL required for the postgres ledger"))
		}
	case "dynamodb":
		if c.DynamoDBTable == "" {
			errs = append(errs, errors.New("config: DYNAMODB_TABLE required for the dynamodb ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}
	if c.CatalogBackend == "gorm" && c.CatalogDSN == "" {
		errs = append(errs, errors.New("config: CATALOG_DSN required for the gorm catalog"))
	}
	switch c.EventTransport {
	case "none":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("config: KAFKA_BROKERS required for kafka transport"))
		}
	case "sqs":
		if c.EventsQueueURL == "" {
			errs = append(errs, errors.New("config: EVENTS_QUEUE_URL required for sqs transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown EVENT_TRANSPORT %q", c.EventTransport))
	}
	if _, err := c.ClinicHours(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClinicHours builds the slot engine parameters.
func (c *Config) ClinicHours() (scheduling.Hours, error) {
	var (
		h    scheduling.Hours
		errs []error
	)
	parse := func(key, raw string) scheduling.TimeOfDay {
		t, err := scheduling.ParseTimeOfDay(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
		}
		return t
	}
	h.Open = parse("CLINIC_OPEN", c.ClinicOpen)
	h.Close = parse("CLINIC_CLOSE", c.ClinicClose)
	h.LunchStart = parse("CLINIC_LUNCH_START", c.ClinicLunchStart)
	h.LunchEnd = parse("CLINIC_LUNCH_END", c.ClinicLunchEnd)
	h.StepMinutes = c.SlotStepMinutes
	for _, raw := range c.ClinicClosedDays {
		day, ok := weekdays[strings.ToLower(raw)]
		if !ok {
			errs = append(errs, fmt.Errorf("config: CLINIC_CLOSED_DAYS: unknown weekday %q", raw))
			continue
		}
		h.ClosedDays = append(h.ClosedDays, day)
	}
	if len(errs) > 0 {
		return scheduling.Hours{}, errors.Join(errs...)
	}
	if err := h.Validate(); err != nil {
		return scheduling.Hours{}, err
	}
	return h, nil
}

// Location loads the clinic timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: CLINIC_TIMEZONE: %w", err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
