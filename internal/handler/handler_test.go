package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/portfolio/internal/csrf"
	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/email"
	"github.com/DukeRupert/portfolio/internal/middleware"
	"github.com/DukeRupert/portfolio/internal/ratelimit"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const testReceiver = "inbox@portfolio.example"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDispatcher struct {
	mu        sync.Mutex
	sent      []domain.ContactSubmission
	receivers []string
	err       error
}

func (d *fakeDispatcher) SendContact(_ context.Context, sub domain.ContactSubmission, receiver string) (email.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return email.Result{Attempts: 3}, d.err
	}
	d.sent = append(d.sent, sub)
	d.receivers = append(d.receivers, receiver)
	return email.Result{MessageID: "<msg-1@portfolio.example>", Attempts: 1}, nil
}

func (d *fakeDispatcher) Close() error { return nil }

type testServer struct {
	handler    http.Handler
	dispatcher *fakeDispatcher
	manager    *csrf.Manager
	health     *HealthHandler
}

type serverOption func(*RouterConfig)

func withoutRateLimit(cfg *RouterConfig) { cfg.RateLimit = nil }

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	logger := discardLogger()

	manager := csrf.NewManager(csrf.NewMemoryStore(nil), csrf.Options{Enabled: true}, logger)
	dispatcher := &fakeDispatcher{}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Max: 5, Window: 15 * time.Minute})

	health := NewHealthHandler(HealthConfig{
		Version:         "1.0.0",
		Environment:     "test",
		EmailConfigured: true,
	}, manager, logger)
	health.readMemory = func() MemoryStats { return MemoryStats{Used: 20, Free: 12, Total: 32} }

	cfg := RouterConfig{
		Logger:    logger,
		CSRF:      NewCSRFHandler(manager, logger),
		Contact:   NewContactHandler(manager, dispatcher, testReceiver, logger),
		Health:    health,
		RateLimit: middleware.NewRateLimitMiddleware(limiter, 5, 15*time.Minute, nil, logger),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testServer{
		handler:    Routes(cfg),
		dispatcher: dispatcher,
		manager:    manager,
		health:     health,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// issueToken fetches a CSRF token and returns the headers needed to submit.
func (s *testServer) issueToken(t *testing.T) map[string]string {
	t.Helper()
	rec := s.do(t, "GET", "/api/csrf-token", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env successEnvelope[CSRFTokenResponse]
	decode(t, rec, &env)
	return map[string]string{
		HeaderCSRFToken: env.Data.Token,
		HeaderSessionID: env.Data.SessionID,
	}
}

type successEnvelope[T any] struct {
	Success   bool   `json:"success"`
	Data      T      `json:"data"`
	RequestID string `json:"requestId"`
}

type errorEnvelope struct {
	Success   bool                `json:"success"`
	Error     string              `json:"error"`
	Code      string              `json:"code"`
	Details   json.RawMessage     `json:"details"`
	RequestID string              `json:"requestId"`
	Fields    []domain.FieldError `json:"-"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	decode(t, rec, &env)
	require.False(t, env.Success)
	require.Equal(t, rec.Header().Get("X-Request-ID"), env.RequestID)
	if len(env.Details) > 0 && env.Details[0] == '[' {
		require.NoError(t, json.Unmarshal(env.Details, &env.Fields))
	}
	return env
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

var errSMTPDown = errors.New("dial tcp 10.0.0.5:587: connection refused")
