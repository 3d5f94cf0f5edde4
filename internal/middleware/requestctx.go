package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/httpx"
)

// =============================================================================
// Context Keys
// =============================================================================

type contextKey string

const (
	requestContextKey contextKey = "request_context"
	loggerKey         contextKey = "logger"
)

// =============================================================================
// Request Context Middleware
// =============================================================================

// RequestContextMiddleware builds the per-request correlation data (id, start
// time, client address, user agent) and a request-scoped logger, and echoes
// the request id in the X-Request-ID response header.
//
// With no trusted proxies configured every request's forwarding headers are
// believed. Once TrustProxies is set, they are only honored when the direct
// peer is a trusted proxy.
type RequestContextMiddleware struct {
	logger  *slog.Logger
	now     func() time.Time
	proxies []*net.IPNet
}

// NewRequestContextMiddleware creates a new request context middleware.
func NewRequestContextMiddleware(logger *slog.Logger) *RequestContextMiddleware {
	return &RequestContextMiddleware{
		logger: logger,
		now:    time.Now,
	}
}

// TrustProxies restricts forwarding headers to requests arriving from proxies.
func (m *RequestContextMiddleware) TrustProxies(proxies []*net.IPNet) *RequestContextMiddleware {
	m.proxies = proxies
	return m
}

// Handler returns middleware that attaches a domain.RequestContext.
func (m *RequestContextMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := NewRequestContext(r, m.now())
		if len(m.proxies) > 0 {
			rc.IP = ClientIPBehind(r, m.proxies)
		}

		w.Header().Set(httpx.HeaderRequestID, rc.RequestID)

		ctx := WithRequestContext(r.Context(), rc)
		ctx = WithLogger(ctx, m.logger.With("request_id", rc.RequestID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewRequestContext creates the correlation data for r.
func NewRequestContext(r *http.Request, now time.Time) domain.RequestContext {
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	return domain.RequestContext{
		RequestID: httpx.NewRequestID(),
		StartTime: now,
		IP:        ClientIP(r),
		UserAgent: ua,
	}
}

// =============================================================================
// Context Helpers
// =============================================================================

// WithRequestContext adds rc to ctx.
func WithRequestContext(ctx context.Context, rc domain.RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// GetRequestContext retrieves the request context.
// Returns false if the request did not pass through RequestContextMiddleware.
func GetRequestContext(ctx context.Context) (domain.RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(domain.RequestContext)
	return rc, ok
}

// RequestID returns the request id from ctx, or "" if none.
func RequestID(ctx context.Context) string {
	rc, _ := GetRequestContext(ctx)
	return rc.RequestID
}

// WithLogger attaches a request-scoped logger to ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the request-scoped logger or fallback.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

// =============================================================================
// Helpers
// =============================================================================

// ClientIP extracts the client IP from the request, considering proxy headers.
// It returns "unknown" when no address can be determined.
func ClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: client, proxy1, proxy2
	// The first one is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// X-Real-IP (nginx)
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	return peerIP(r)
}

// ClientIPBehind resolves the client address when only proxies may set
// forwarding headers. A request from any other peer is identified by its
// socket address. From a trusted peer, X-Forwarded-For is read right to left
// and the first untrusted hop is the client.
func ClientIPBehind(r *http.Request, proxies []*net.IPNet) string {
	peer := peerIP(r)
	if !trustedProxy(peer, proxies) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			client = hop
			if !trustedProxy(hop, proxies) {
				return hop
			}
		}
		if client != "" {
			return client
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

// ParseTrustedProxies parses IP addresses and CIDR ranges.
func ParseTrustedProxies(list []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(list))
	for _, entry := range list {
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func trustedProxy(addr string, proxies []*net.IPNet) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func peerIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
