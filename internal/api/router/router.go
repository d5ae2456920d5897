package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/medspa-booking/internal/appointments"
	"github.com/wolfman30/medspa-booking/internal/catalog"
	httpmiddleware "github.com/wolfman30/medspa-booking/internal/http/middleware"
	"github.com/wolfman30/medspa-booking/internal/payments"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// Pinger reports whether a dependency is reachable. *pgxpool.Pool and *redis.Client
// adapters satisfy it.
type Pinger func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Appointments       *appointments.Handler
	Catalog            *catalog.Handler
	StripeWebhook      *payments.StripeWebhookHandler
	SquareWebhook      *payments.SquareWebhookHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// One of the limiters guards the public booking API; the redis one wins when both are set.
	RateLimiter      *httpmiddleware.RateLimiter
	RedisRateLimiter *httpmiddleware.RedisRateLimiter

	// Readiness checks reported by /health.
	Checks map[string]Pinger

	// Tracing wraps the whole router in otelhttp when set.
	Tracing bool
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.Checks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.SquareWebhook != nil {
			public.Post("/webhooks/square", cfg.SquareWebhook.Handle)
		}
	})

	if cfg.Appointments != nil {
		r.Group(func(api chi.Router) {
			switch {
			case cfg.RedisRateLimiter != nil:
				api.Use(httpmiddleware.RedisRateLimit(cfg.RedisRateLimiter))
			case cfg.RateLimiter != nil:
				api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			api.Mount("/v1", cfg.Appointments.Routes())
		})
	}

	// Staff routes are only exposed when a signing secret is configured.
	if cfg.AdminAuthSecret != "" && (cfg.Appointments != nil || cfg.Catalog != nil) {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.Appointments != nil {
				admin.Mount("/appointments", cfg.Appointments.AdminRoutes())
			}
			if cfg.Catalog != nil {
				admin.Mount("/treatments", cfg.Catalog.Routes())
			}
		})
	}

	if cfg.Tracing {
		return otelhttp.NewHandler(r, "medspa-booking",
			otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
				return req.Method + " " + req.URL.Path
			}),
		)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		code := http.StatusOK
		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			resp.Checks = make(map[string]string, len(checks))
			for name, ping := range checks {
				if err := ping(ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					code = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
