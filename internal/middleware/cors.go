package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// CORSOptions configures cross-origin access to the API.
type CORSOptions struct {
	// AllowedOrigins lists permitted origins. Empty or "*" allows any origin.
	AllowedOrigins []string
	Debug          bool
}

// CORSMiddleware answers CORS preflights and decorates responses with the
// Access-Control-* headers.
type CORSMiddleware struct {
	cors *cors.Cors
}

// NewCORSMiddleware creates a new CORS middleware.
func NewCORSMiddleware(opts CORSOptions) *CORSMiddleware {
	origins := make([]string, 0, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-CSRF-Token",
			"X-Session-ID",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
			"Retry-After",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		AllowCredentials:     true,
		MaxAge:               86400,
		OptionsPassthrough:   true,
		OptionsSuccessStatus: http.StatusOK,
		Debug:                opts.Debug,
	})

	return &CORSMiddleware{cors: c}
}

// Handler returns middleware that applies the CORS policy.
//
// Preflight requests are passed through so the endpoint pipeline answers them
// after its own stages (request id, security headers) have run.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return m.cors.Handler(next)
}
