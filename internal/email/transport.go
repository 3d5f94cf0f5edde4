package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
)

// Transport hands a composed message to a mail server.
type Transport interface {
	Send(ctx context.Context, e *email.Email) error
	Close() error
}

// NewTransport picks the SMTP transport for cfg's port.
func NewTransport(cfg SMTPConfig) (Transport, error) {
	if cfg.ImplicitTLS() {
		return NewTLSTransport(cfg), nil
	}
	return NewPoolTransport(cfg)
}

func plainAuth(cfg SMTPConfig) smtp.Auth {
	if cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
}

// =============================================================================
// Pooled STARTTLS Transport
// =============================================================================

// PoolTransport reuses up to PoolSize authenticated SMTP connections.
// Connections are dialed lazily on first use.
type PoolTransport struct {
	pool *email.Pool
}

// NewPoolTransport creates a pooled transport. It does not dial.
func NewPoolTransport(cfg SMTPConfig) (*PoolTransport, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	pool, err := email.NewPool(cfg.Addr(), size, plainAuth(cfg), &tls.Config{ServerName: cfg.Host})
	if err != nil {
		return nil, fmt.Errorf("create smtp pool: %w", err)
	}
	return &PoolTransport{pool: pool}, nil
}

// Send waits for a pooled connection until ctx's deadline (or
// DefaultSendTimeout when ctx has none) and delivers e.
func (t *PoolTransport) Send(ctx context.Context, e *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := DefaultSendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return t.pool.Send(e, timeout)
}

func (t *PoolTransport) Close() error {
	t.pool.Close()
	return nil
}

// =============================================================================
// Implicit TLS Transport
// =============================================================================

// TLSTransport opens a TLS connection per message. The pool does not speak
// implicit TLS, so port 465 goes through here.
type TLSTransport struct {
	cfg  SMTPConfig
	auth smtp.Auth
}

func NewTLSTransport(cfg SMTPConfig) *TLSTransport {
	return &TLSTransport{cfg: cfg, auth: plainAuth(cfg)}
}

func (t *TLSTransport) Send(ctx context.Context, e *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.SendWithTLS(t.cfg.Addr(), t.auth, &tls.Config{ServerName: t.cfg.Host})
}

func (t *TLSTransport) Close() error { return nil }

// =============================================================================
// Connectivity Check
// =============================================================================

// Verify dials the server, negotiates TLS and authenticates, then quits.
// It reports whether the configured credentials work without sending mail.
func Verify(ctx context.Context, cfg SMTPConfig) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{ServerName: cfg.Host}
	if cfg.ImplicitTLS() {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if !cfg.ImplicitTLS() {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if auth := plainAuth(cfg); auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	return c.Quit()
}
