package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/httpx"
	"github.com/DukeRupert/portfolio/internal/middleware"
)

// ErrorResponse writes an error envelope to the client.
// It maps domain error codes to HTTP status codes. Internal errors are
// reduced to a generic message; the full error is only logged.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	// Extract structured info from error
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	op := domain.ErrorOp(err)

	// Map to HTTP status
	status := ErrorCodeToHTTPStatus(code)

	// Log error with context
	logError(middleware.LoggerFromContext(r.Context(), logger), r, err, code, op, status)

	httpx.WriteError(w, status, middleware.RequestID(r.Context()), code, message, domain.ErrorDetails(err))
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EVALIDATION, domain.EBODY:
		return http.StatusBadRequest // 400
	case domain.EUNAUTH:
		return http.StatusUnauthorized // 401
	case domain.ECSRF:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.EMETHOD:
		return http.StatusMethodNotAllowed // 405
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.ECSRFGEN, domain.EEMAIL, domain.EINTERNAL:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// NotFoundResponse is a convenience wrapper for 404 errors.
func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	ErrorResponse(w, r, logger, domain.NotFound("handler.NotFound"))
}

// logError logs the error with appropriate level based on status code.
func logError(logger *slog.Logger, r *http.Request, err error, code, op string, status int) {
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}

	// Add operation if present
	if op != "" {
		attrs = append(attrs, "op", op)
	}

	// Log level based on status code:
	// - 5xx errors are errors (server-side issues)
	// - 4xx errors are warnings (client errors, expected)
	if status >= 500 {
		logger.Error("server error", attrs...)
	} else if status >= 400 {
		logger.Warn("client error", attrs...)
	}
}
