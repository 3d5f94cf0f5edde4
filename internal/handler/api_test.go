package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/middleware"
)

// =============================================================================
// GET /api/csrf-token
// =============================================================================

func TestCSRFToken_IssuesNewToken(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, "GET", "/api/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env successEnvelope[CSRFTokenResponse]
	decode(t, rec, &env)

	assert.True(t, env.Success)
	assert.Len(t, env.Data.Token, 64)
	assert.Len(t, env.Data.SessionID, 64)
	assert.Equal(t, 3600, env.Data.ExpiresIn)
	assert.Equal(t, "New CSRF token generated", env.Data.Message)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), env.RequestID)

	assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "HSTS is production only")
}

func TestCSRFToken_ReturnsExistingToken(t *testing.T) {
	srv := newTestServer(t)
	first := srv.issueToken(t)

	rec := srv.do(t, "GET", "/api/csrf-token", nil, map[string]string{
		HeaderSessionID: first[HeaderSessionID],
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var env successEnvelope[CSRFTokenResponse]
	decode(t, rec, &env)

	assert.Equal(t, first[HeaderCSRFToken], env.Data.Token)
	assert.Equal(t, first[HeaderSessionID], env.Data.SessionID)
	assert.Equal(t, "Existing CSRF token retrieved", env.Data.Message)
	assert.InDelta(t, 3600, env.Data.ExpiresIn, 1)
}

func TestCSRFToken_NotRateLimited(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 10; i++ {
		rec := srv.do(t, "GET", "/api/csrf-token", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
}

func TestCSRFToken_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	for _, method := range []string{"POST", "PUT", "DELETE"} {
		rec := srv.do(t, method, "/api/csrf-token", nil, nil)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "GET", rec.Header().Get("Allow"))

		env := decodeError(t, rec)
		assert.Equal(t, "METHOD_NOT_ALLOWED", env.Code)
		assert.Equal(t, "Method not allowed", env.Error)
	}
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/csrf-token", "/api/send-email", "/api/health"} {
		rec := srv.do(t, "OPTIONS", path, nil, map[string]string{
			"Origin":                        "https://portfolio.example",
			"Access-Control-Request-Method": "POST",
		})
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Body.String(), path)
		assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), path)
	}
}

// =============================================================================
// POST /api/send-email
// =============================================================================

func TestSendEmail_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	headers := srv.issueToken(t)

	body := mustJSON(t, map[string]string{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"message": "Hello, I'd like to connect about a project.",
	})

	rec := srv.do(t, "POST", "/api/send-email", body, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env successEnvelope[ContactResponse]
	decode(t, rec, &env)

	assert.True(t, env.Success)
	assert.Equal(t, "Email sent successfully", env.Data.Message)
	assert.NotEmpty(t, env.Data.MessageID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), env.RequestID)

	require.Len(t, srv.dispatcher.sent, 1)
	assert.Equal(t, domain.ContactSubmission{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Message: "Hello, I'd like to connect about a project.",
	}, srv.dispatcher.sent[0])
	assert.Equal(t, []string{testReceiver}, srv.dispatcher.receivers)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestSendEmail_SanitizesBeforeValidation(t *testing.T) {
	srv := newTestServer(t)
	headers := srv.issueToken(t)

	body := mustJSON(t, map[string]string{
		"name":    "  Ada Lovelace  ",
		"email":   " ada@example.com ",
		"message": "<script>alert(1)</script> please reply",
	})

	rec := srv.do(t, "POST", "/api/send-email", body, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, srv.dispatcher.sent, 1)
	sent := srv.dispatcher.sent[0]
	assert.Equal(t, "Ada Lovelace", sent.Name)
	assert.Equal(t, "ada@example.com", sent.Email)
	assert.Equal(t, "scriptalert(1)/script please reply", sent.Message)
}

func TestSendEmail_ValidationRejection(t *testing.T) {
	srv := newTestServer(t)
	headers := srv.issueToken(t)

	body := mustJSON(t, map[string]string{
		"name":    "A",
		"email":   "not-an-email",
		"message": "hi",
	})

	rec := srv.do(t, "POST", "/api/send-email", body, headers)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
	assert.Equal(t, "Validation failed", env.Error)
	assert.Equal(t, []domain.FieldError{
		{Field: "name", Message: "Name must be at least 2 characters long"},
		{Field: "email", Message: "Please provide a valid email address"},
		{Field: "message", Message: "Message must be at least 10 characters long"},
	}, env.Fields)

	assert.Empty(t, srv.dispatcher.sent, "invalid submissions are never sent")
}

func TestSendEmail_CSRFFailures(t *testing.T) {
	srv := newTestServer(t, withoutRateLimit)
	valid := srv.issueToken(t)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"missing headers", nil},
		{"missing session", map[string]string{HeaderCSRFToken: valid[HeaderCSRFToken]}},
		{"missing token", map[string]string{HeaderSessionID: valid[HeaderSessionID]}},
		{"wrong token", map[string]string{
			HeaderSessionID: valid[HeaderSessionID],
			HeaderCSRFToken: strings.Repeat("0", 64),
		}},
		{"unknown session", map[string]string{
			HeaderSessionID: strings.Repeat("a", 64),
			HeaderCSRFToken: valid[HeaderCSRFToken],
		}},
		{"different client address", map[string]string{
			HeaderSessionID:   valid[HeaderSessionID],
			HeaderCSRFToken:   valid[HeaderCSRFToken],
			"X-Forwarded-For": "198.51.100.77",
		}},
	}

	body := mustJSON(t, map[string]string{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"message": "Hello, I'd like to connect about a project.",
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, "POST", "/api/send-email", body, tt.headers)

			require.Equal(t, http.StatusForbidden, rec.Code)
			env := decodeError(t, rec)
			assert.Equal(t, "CSRF_TOKEN_INVALID", env.Code)
			assert.Equal(t, "Invalid CSRF token", env.Error)
		})
	}

	assert.Empty(t, srv.dispatcher.sent)
}

func TestSendEmail_CSRFCheckedBeforeBody(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, "POST", "/api/send-email", []byte("not json"), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSendEmail_InvalidBody(t *testing.T) {
	srv := newTestServer(t, withoutRateLimit)
	headers := srv.issueToken(t)

	for _, body := range []string{"", "not json", "[1,2]", `"text"`, `{"name":`, `{"name":1}`, `{} {}`} {
		rec := srv.do(t, "POST", "/api/send-email", []byte(body), headers)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)

		env := decodeError(t, rec)
		assert.Equal(t, "INVALID_BODY", env.Code, "body %q", body)
		assert.Equal(t, "Invalid request body", env.Error)
	}
}

func TestSendEmail_DispatchFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.dispatcher.err = errSMTPDown
	headers := srv.issueToken(t)

	body := mustJSON(t, map[string]string{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"message": "Hello, I'd like to connect about a project.",
	})

	rec := srv.do(t, "POST", "/api/send-email", body, headers)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, "EMAIL_SEND_FAILED", env.Code)
	assert.Equal(t, "Failed to send email. Please try again later.", env.Error)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5", "downstream detail must not leak")
}

func TestSendEmail_RateLimited(t *testing.T) {
	srv := newTestServer(t)
	headers := srv.issueToken(t)

	body := mustJSON(t, map[string]string{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"message": "Hello, I'd like to connect about a project.",
	})

	for i := 0; i < 5; i++ {
		rec := srv.do(t, "POST", "/api/send-email", body, headers)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := srv.do(t, "POST", "/api/send-email", body, headers)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.Len(t, srv.dispatcher.sent, 5)
}

func TestSendEmail_RateLimitIgnoresSpoofedForwarding(t *testing.T) {
	proxies, err := middleware.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	srv := newTestServer(t, func(cfg *RouterConfig) { cfg.TrustedProxies = proxies })
	headers := srv.issueToken(t)

	body := mustJSON(t, map[string]string{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"message": "Hello, I'd like to connect about a project.",
	})

	var rec *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		headers["X-Forwarded-For"] = fmt.Sprintf("198.51.100.%d", i+1)
		rec = srv.do(t, "POST", "/api/send-email", body, headers)
	}

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, srv.dispatcher.sent, 5)
}

func TestSendEmail_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, "GET", "/api/send-email", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rec).Code)
}

// =============================================================================
// GET /api/health
// =============================================================================

func TestHealth_Healthy(t *testing.T) {
	srv := newTestServer(t)
	srv.issueToken(t)

	rec := srv.do(t, "GET", "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decode(t, rec, &resp)

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, "test", resp.Environment)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), resp.RequestID)
	assert.GreaterOrEqual(t, resp.Uptime, 0.0)
	assert.False(t, resp.Timestamp.IsZero())
	assert.True(t, resp.Checks.Email)
	assert.Equal(t, MemoryStats{Used: 20, Free: 12, Total: 32}, resp.Checks.Memory)
	require.NotNil(t, resp.Checks.CSRFTokens)
	assert.Equal(t, 1, *resp.Checks.CSRFTokens)
}

func TestHealth_DegradedOnMemory(t *testing.T) {
	srv := newTestServer(t)
	srv.health.readMemory = func() MemoryStats { return MemoryStats{Used: 501, Free: 10, Total: 511} }

	rec := srv.do(t, "GET", "/api/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestHealth_DegradedWithoutEmail(t *testing.T) {
	srv := newTestServer(t)
	srv.health.config.EmailConfigured = false

	rec := srv.do(t, "GET", "/api/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingCounter struct{}

func (failingCounter) Count(context.Context) (int, error) { return 0, errors.New("db down") }

func TestHealth_TokenCountFailureOmitsCheck(t *testing.T) {
	srv := newTestServer(t)
	srv.health.tokens = failingCounter{}

	rec := srv.do(t, "GET", "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "csrfTokens")
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, "POST", "/api/health", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rec).Code)
}

func TestReadHeapStats(t *testing.T) {
	m := readHeapStats()
	assert.GreaterOrEqual(t, m.Total, m.Used)
	assert.Equal(t, m.Total-m.Used, m.Free)
}

// =============================================================================
// Other routes
// =============================================================================

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, "GET", "/api/unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	env := decodeError(t, rec)
	assert.Equal(t, "NOT_FOUND", env.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, func(cfg *RouterConfig) {
		cfg.MetricsUsername = "admin"
		cfg.MetricsPassword = "secret"
	})

	srv.do(t, "GET", "/api/health", nil, nil)

	rec := srv.do(t, "GET", "/metrics", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := map[string]string{"Authorization": "Basic YWRtaW46c2VjcmV0"} // admin:secret
	rec = srv.do(t, "GET", "/metrics", nil, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portfolio_http_requests_total")
}

func TestHSTSInProduction(t *testing.T) {
	srv := newTestServer(t, func(cfg *RouterConfig) { cfg.IsProduction = true })

	rec := srv.do(t, "GET", "/api/health", nil, nil)
	assert.Equal(t, "max-age=31536000; includeSubDomains; preload", rec.Header().Get("Strict-Transport-Security"))
}
