package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/httpx"
	"github.com/DukeRupert/portfolio/internal/metrics"
	"github.com/DukeRupert/portfolio/internal/ratelimit"
)

// =============================================================================
// Rate Limit Middleware
// =============================================================================

// RateLimitMiddleware consumes one limiter point per request, keyed by client
// address. Trusted addresses bypass the limiter entirely.
//
// Limiter failures fail open: the request proceeds and the error is logged and
// counted, so a broken shared store cannot take the contact form down.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	max     int
	window  time.Duration
	trusted map[string]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewRateLimitMiddleware creates a new rate limit middleware. max and window
// are reported to clients in the 429 details and should match the limiter's
// configuration.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, max int, window time.Duration, trustedIPs []string, logger *slog.Logger) *RateLimitMiddleware {
	trusted := make(map[string]struct{}, len(trustedIPs))
	for _, ip := range trustedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			trusted[ip] = struct{}{}
		}
	}
	return &RateLimitMiddleware{
		limiter: limiter,
		max:     max,
		window:  window,
		trusted: trusted,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns middleware that rate limits requests.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, ok := GetRequestContext(r.Context())
		if !ok {
			rc = NewRequestContext(r, m.now())
		}
		logger := LoggerFromContext(r.Context(), m.logger)

		if _, ok := m.trusted[rc.IP]; ok {
			next.ServeHTTP(w, r)
			return
		}

		res, err := m.limiter.Consume(r.Context(), rc.IP)
		if err != nil {
			metrics.RateLimitErrors.Inc()
			logger.Error("rate limiter unavailable, allowing request",
				"ip", rc.IP,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		if !res.Allowed {
			m.reject(w, r, rc, res, logger)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		next.ServeHTTP(w, r)
	})
}

// reject writes the 429 response with retry timing.
func (m *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, rc domain.RequestContext, res ratelimit.Result, logger *slog.Logger) {
	retryAfter := res.RetryAfterSeconds()

	logger.Warn("rate limit exceeded",
		"ip", rc.IP,
		"path", r.URL.Path,
		"method", r.Method,
		"retry_after", retryAfter,
	)
	metrics.RateLimitRejections.WithLabelValues(r.URL.Path).Inc()

	reset := m.now().Add(time.Duration(retryAfter) * time.Second).UTC()

	h := w.Header()
	h.Set("Retry-After", strconv.Itoa(retryAfter))
	h.Set("X-RateLimit-Limit", strconv.Itoa(m.max))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", reset.Format(time.RFC3339))

	err := domain.RateLimit("middleware.RateLimit", domain.RateLimitDetails{
		RetryAfter:      retryAfter,
		RateLimitMax:    m.max,
		RateLimitWindow: int(m.window / time.Second),
	})
	httpx.WriteError(w, http.StatusTooManyRequests, rc.RequestID,
		domain.ErrorCode(err), domain.ErrorMessage(err), domain.ErrorDetails(err))
}
