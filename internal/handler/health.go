package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/httpx"
	"github.com/DukeRupert/portfolio/internal/middleware"
)

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// DefaultMemoryThresholdMB is the heap size above which the service reports
// itself degraded.
const DefaultMemoryThresholdMB = 500

// MemoryStats is heap usage in whole megabytes.
type MemoryStats struct {
	Used  int `json:"used"`
	Free  int `json:"free"`
	Total int `json:"total"`
}

// HealthChecks groups the individual checks of a health report.
type HealthChecks struct {
	Email      bool        `json:"email"`
	Memory     MemoryStats `json:"memory"`
	CSRFTokens *int        `json:"csrfTokens,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	Uptime      float64      `json:"uptime"` // seconds
	Version     string       `json:"version"`
	Environment string       `json:"environment"`
	Checks      HealthChecks `json:"checks"`
	RequestID   string       `json:"requestId"`
}

// TokenCounter reports the number of stored CSRF sessions.
type TokenCounter interface {
	Count(ctx context.Context) (int, error)
}

// HealthConfig configures a HealthHandler.
type HealthConfig struct {
	Version           string
	Environment       string
	EmailConfigured   bool
	MemoryThresholdMB int
}

// HealthHandler reports liveness and basic resource usage.
type HealthHandler struct {
	config  HealthConfig
	tokens  TokenCounter
	logger  *slog.Logger
	started time.Time

	now        func() time.Time
	readMemory func() MemoryStats
}

// NewHealthHandler creates a new HealthHandler. tokens may be nil.
func NewHealthHandler(config HealthConfig, tokens TokenCounter, logger *slog.Logger) *HealthHandler {
	if config.MemoryThresholdMB <= 0 {
		config.MemoryThresholdMB = DefaultMemoryThresholdMB
	}
	return &HealthHandler{
		config:     config,
		tokens:     tokens,
		logger:     logger,
		started:    time.Now(),
		now:        time.Now,
		readMemory: readHeapStats,
	}
}

// Check writes the health report: 200 when healthy, 503 when degraded.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request, rc domain.RequestContext) error {
	logger := middleware.LoggerFromContext(r.Context(), h.logger)
	now := h.now()

	checks := HealthChecks{
		Email:  h.config.EmailConfigured,
		Memory: h.readMemory(),
	}

	if h.tokens != nil {
		n, err := h.tokens.Count(r.Context())
		if err != nil {
			logger.Warn("failed to count csrf sessions", "error", err)
		} else {
			checks.CSRFTokens = &n
		}
	}

	status := StatusHealthy
	if !checks.Email || checks.Memory.Used > h.config.MemoryThresholdMB {
		status = StatusDegraded
	}

	resp := HealthResponse{
		Status:      status,
		Timestamp:   now.UTC(),
		Uptime:      now.Sub(h.started).Seconds(),
		Version:     h.config.Version,
		Environment: h.config.Environment,
		Checks:      checks,
		RequestID:   rc.RequestID,
	}

	logger.Info("Health check completed",
		"status", status,
		"processing_ms", time.Since(rc.StartTime).Milliseconds(),
		"memory_used_mb", checks.Memory.Used,
	)

	code := http.StatusOK
	if status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, resp)
	return nil
}

// readHeapStats reads Go heap usage from the runtime.
func readHeapStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	used := toMB(m.HeapAlloc)
	total := toMB(m.HeapSys)
	return MemoryStats{
		Used:  used,
		Free:  total - used,
		Total: total,
	}
}

func toMB(b uint64) int {
	return int(math.Round(float64(b) / (1 << 20)))
}
