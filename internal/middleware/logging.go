package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/httpx"
)

// RequestLoggingMiddleware logs receipt and completion of every request and
// converts panics into a generic 500 response.
//
// It must run inside RequestContextMiddleware so entries carry the request id.
type RequestLoggingMiddleware struct {
	logger *slog.Logger
}

// NewRequestLoggingMiddleware creates a new request logging middleware.
func NewRequestLoggingMiddleware(logger *slog.Logger) *RequestLoggingMiddleware {
	return &RequestLoggingMiddleware{
		logger: logger,
	}
}

// Handler returns middleware that logs all HTTP requests.
func (m *RequestLoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		rc, ok := GetRequestContext(r.Context())
		if !ok {
			rc = NewRequestContext(r, time.Now())
		}
		logger := LoggerFromContext(r.Context(), m.logger)

		// Sanitize path to remove sensitive query params
		safePath := sanitizePath(r.URL.Path, r.URL.RawQuery)

		logger.Info("API request received",
			"method", r.Method,
			"path", safePath,
			"ip", rc.IP,
			"user_agent", rc.UserAgent,
			"content_length", r.ContentLength,
			"referer", r.Referer(),
		)

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				if !wrapped.wroteHeader {
					err := domain.Internal(fmt.Errorf("panic: %v", rec), "middleware.recover")
					httpx.WriteError(wrapped, http.StatusInternalServerError, rc.RequestID,
						domain.ErrorCode(err), domain.ErrorMessage(err), nil)
				}
			}

			attrs := []any{
				"method", r.Method,
				"path", safePath,
				"ip", rc.IP,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(rc.StartTime).Milliseconds(),
			}

			// Log at appropriate level based on status code
			if wrapped.statusCode >= 500 {
				logger.Error("API request completed", attrs...)
			} else {
				logger.Info("API request completed", attrs...)
			}
		}()

		next.ServeHTTP(wrapped, r)
	})
}

// shouldSkip returns true for paths that should not be logged (too noisy).
// API endpoints, health included, are always logged.
func shouldSkip(path string) bool {
	return path == "/metrics"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// sanitizePath removes sensitive query parameters from the path for logging.
func sanitizePath(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}

	// List of sensitive query parameter names to redact
	sensitiveParams := []string{
		"token",
		"csrf",
		"csrf_token",
		"session",
		"session_id",
		"key",
		"secret",
		"password",
	}

	parts := strings.Split(rawQuery, "&")
	var safeParts []string

	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.ToLower(kv[0])
		isSensitive := false
		for _, sensitive := range sensitiveParams {
			if key == sensitive {
				isSensitive = true
				break
			}
		}

		if isSensitive {
			safeParts = append(safeParts, kv[0]+"=[REDACTED]")
		} else {
			safeParts = append(safeParts, part)
		}
	}

	if len(safeParts) == 0 {
		return path
	}

	return path + "?" + strings.Join(safeParts, "&")
}
