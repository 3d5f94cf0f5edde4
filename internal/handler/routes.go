package handler

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/portfolio/internal/metrics"
	"github.com/DukeRupert/portfolio/internal/middleware"
)

// RouterConfig holds everything Routes needs to build the API.
type RouterConfig struct {
	Logger *slog.Logger

	CSRF    *CSRFHandler
	Contact *ContactHandler
	Health  *HealthHandler

	// RateLimit guards rate-limited endpoints. Nil disables limiting.
	RateLimit *middleware.RateLimitMiddleware

	IsProduction   bool
	AllowedOrigins []string

	// TrustedProxies limits who may set forwarding headers. Empty trusts all.
	TrustedProxies []*net.IPNet

	MetricsUsername string
	MetricsPassword string
}

// Routes builds the application handler.
//
// Routes are registered without method prefixes so that the pipeline, not the
// mux, answers disallowed methods with the JSON envelope.
//
// Routes:
//   - GET  /api/csrf-token -> CSRFHandler.Token   (not rate limited)
//   - POST /api/send-email -> ContactHandler.Send (rate limited)
//   - GET  /api/health     -> HealthHandler.Check (not rate limited)
//   - GET  /metrics        -> Prometheus exposition (basic auth)
//   - everything else      -> 404 envelope
func Routes(cfg RouterConfig) http.Handler {
	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimit != nil {
		rateLimit = cfg.RateLimit.Handler
	}
	pipeline := NewPipeline(rateLimit, cfg.Logger)

	mux := http.NewServeMux()

	mux.Handle("/api/csrf-token", pipeline.Handle(Options{
		AllowedMethods: []string{http.MethodGet},
		SkipRateLimit:  true,
	}, cfg.CSRF.Token))

	mux.Handle("/api/send-email", pipeline.Handle(Options{
		AllowedMethods: []string{http.MethodPost},
	}, cfg.Contact.Send))

	mux.Handle("/api/health", pipeline.Handle(Options{
		AllowedMethods: []string{http.MethodGet},
		SkipRateLimit:  true,
	}, cfg.Health.Check))

	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("/metrics", metricsAuth.Handler(promhttp.Handler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundResponse(w, r, cfg.Logger)
	})

	stack := middleware.Stack(
		middleware.NewRequestContextMiddleware(cfg.Logger).TrustProxies(cfg.TrustedProxies).Handler,
		middleware.NewRequestLoggingMiddleware(cfg.Logger).Handler,
		middleware.NewSecurityHeadersMiddleware(cfg.IsProduction).Handler,
		middleware.NewCORSMiddleware(middleware.CORSOptions{AllowedOrigins: cfg.AllowedOrigins}).Handler,
	)

	return stack(metrics.Middleware(mux))
}
