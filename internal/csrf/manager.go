package csrf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/portfolio/internal/metrics"
)

// Options configures a Manager.
type Options struct {
	// TTL is the lifetime of a newly minted token. Default: 1 hour.
	TTL time.Duration

	// RotateOnUse replaces the token after every successful validation so a
	// captured token can be replayed at most once.
	RotateOnUse bool

	// Enabled turns validation on. When false, Validate accepts every request.
	// Callers set this explicitly from configuration (typically disabled only
	// in development).
	Enabled bool

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Issued is the result of a token issuance.
type Issued struct {
	Token     string
	SessionID string
	ExpiresIn time.Duration
	IsNew     bool
}

// Manager applies issuance and validation policy on top of a Store.
type Manager struct {
	store   Store
	ttl     time.Duration
	rotate  bool
	enabled bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, opts Options, logger *slog.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:   store,
		ttl:     opts.TTL,
		rotate:  opts.RotateOnUse,
		enabled: opts.Enabled,
		now:     opts.Now,
		logger:  logger,
	}
}

// Enabled reports whether validation is enforced.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Issue returns the token for sessionID, minting one if needed.
//
// An empty sessionID is replaced by one derived from the client address, user
// agent and current time. If an unexpired record exists for the session it is
// returned unchanged; otherwise a new token is stored with the configured TTL.
// Concurrent calls for the same session all receive the same token.
func (m *Manager) Issue(ctx context.Context, sessionID, clientIP, userAgent string) (Issued, error) {
	now := m.now()

	if sessionID == "" {
		sessionID = GenerateSessionID(clientIP, userAgent, now)
	} else {
		rec, ok, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return Issued{}, fmt.Errorf("get csrf session: %w", err)
		}
		if ok {
			metrics.CSRFTokensIssued.WithLabelValues("existing").Inc()
			return Issued{
				Token:     rec.Token,
				SessionID: sessionID,
				ExpiresIn: rec.ExpiresAt.Sub(now),
				IsNew:     false,
			}, nil
		}
	}

	token, err := GenerateToken()
	if err != nil {
		return Issued{}, fmt.Errorf("generate csrf token: %w", err)
	}

	stored, inserted, err := m.store.PutIfAbsent(ctx, Record{
		SessionID: sessionID,
		Token:     token,
		ClientIP:  clientIP,
		ExpiresAt: now.Add(m.ttl),
	}, now)
	if err != nil {
		return Issued{}, fmt.Errorf("store csrf session: %w", err)
	}

	// A concurrent request for the same session stored its token first.
	if !inserted {
		metrics.CSRFTokensIssued.WithLabelValues("existing").Inc()
		return Issued{
			Token:     stored.Token,
			SessionID: sessionID,
			ExpiresIn: stored.ExpiresAt.Sub(now),
			IsNew:     false,
		}, nil
	}

	metrics.CSRFTokensIssued.WithLabelValues("new").Inc()

	return Issued{
		Token:     stored.Token,
		SessionID: sessionID,
		ExpiresIn: m.ttl,
		IsNew:     true,
	}, nil
}

// Validate checks a presented token against the stored session.
//
// It fails when no record exists, the record has expired, the recorded client
// address differs from clientIP, or the token does not match. With rotation
// enabled, success atomically replaces the token; a concurrent request that
// presented the same token loses the race and fails.
func (m *Manager) Validate(ctx context.Context, sessionID, token, clientIP string) (bool, error) {
	if !m.enabled {
		return true, nil
	}

	ok, reason, err := m.validate(ctx, sessionID, token, clientIP)
	if err != nil {
		metrics.CSRFValidations.WithLabelValues("error").Inc()
		return false, err
	}
	metrics.CSRFValidations.WithLabelValues(reason).Inc()

	if !ok {
		m.logger.Debug("csrf validation failed",
			"session_id", ShortID(sessionID),
			"reason", reason,
		)
	}
	return ok, nil
}

func (m *Manager) validate(ctx context.Context, sessionID, token, clientIP string) (bool, string, error) {
	if sessionID == "" || token == "" {
		return false, "missing", nil
	}

	rec, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, "", fmt.Errorf("get csrf session: %w", err)
	}
	if !ok {
		return false, "unknown_session", nil
	}

	now := m.now()
	if !rec.Valid(now) {
		return false, "expired", nil
	}
	if rec.ClientIP != clientIP {
		return false, "address_mismatch", nil
	}
	if !ValidateToken(rec.Token, token) {
		return false, "token_mismatch", nil
	}

	if !m.rotate {
		return true, "valid", nil
	}

	next, err := GenerateToken()
	if err != nil {
		return false, "", fmt.Errorf("generate csrf token: %w", err)
	}
	swapped, err := m.store.Replace(ctx, sessionID, token, Record{
		SessionID: sessionID,
		Token:     next,
		ClientIP:  clientIP,
		ExpiresAt: now.Add(m.ttl),
	}, now)
	if err != nil {
		return false, "", fmt.Errorf("rotate csrf token: %w", err)
	}
	if !swapped {
		return false, "token_mismatch", nil
	}
	return true, "valid", nil
}

// Sweep removes expired records. It is run periodically by the scheduler.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired csrf sessions: %w", err)
	}
	if removed > 0 {
		metrics.CSRFSweptTotal.Add(float64(removed))
		m.logger.Debug("swept expired csrf sessions", "removed", removed)
	}
	return removed, nil
}

// Count returns the number of stored sessions.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}
