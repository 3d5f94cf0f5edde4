// Package handler contains the HTTP endpoints of the portfolio API and the
// per-endpoint pipeline that wraps them.
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/middleware"
)

// =============================================================================
// Pipeline
// =============================================================================

// HandlerFunc is an endpoint's business logic. A returned error is rendered
// as an error envelope; the function writes its own success response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, rc domain.RequestContext) error

// Options declares an endpoint's pipeline behavior.
type Options struct {
	// AllowedMethods lists the methods the endpoint accepts. Others get 405.
	AllowedMethods []string

	// SkipRateLimit exempts the endpoint from the inbound rate limiter.
	SkipRateLimit bool
}

// Pipeline builds endpoint handlers that run, in order: preflight answer,
// method check, rate limiting, business logic, error rendering.
//
// Request context, logging, security headers and CORS are applied globally
// by the middleware stack in Routes.
type Pipeline struct {
	rateLimit func(http.Handler) http.Handler
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline. rateLimit may be nil to disable limiting.
func NewPipeline(rateLimit func(http.Handler) http.Handler, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		rateLimit: rateLimit,
		logger:    logger,
	}
}

// Handle wraps fn with the pipeline stages configured by opts.
func (p *Pipeline) Handle(opts Options, fn HandlerFunc) http.Handler {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.serve(w, r, fn)
	})

	if p.rateLimit != nil && !opts.SkipRateLimit {
		h = p.rateLimit(h)
	}

	allow := strings.Join(opts.AllowedMethods, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if len(opts.AllowedMethods) > 0 && !slices.Contains(opts.AllowedMethods, r.Method) {
			w.Header().Set("Allow", allow)
			ErrorResponse(w, r, p.logger, domain.MethodNotAllowed("handler.Pipeline", r.Method))
			return
		}

		h.ServeHTTP(w, r)
	})
}

// serve runs the business logic and renders any failure, including a panic,
// as an error envelope.
func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, fn HandlerFunc) {
	rc, ok := middleware.GetRequestContext(r.Context())
	if !ok {
		rc = middleware.NewRequestContext(r, time.Now())
	}

	defer func() {
		if rec := recover(); rec != nil {
			ErrorResponse(w, r, p.logger, domain.Internal(fmt.Errorf("panic: %v", rec), "handler.Pipeline"))
		}
	}()

	if err := fn(w, r, rc); err != nil {
		ErrorResponse(w, r, p.logger, err)
	}
}
