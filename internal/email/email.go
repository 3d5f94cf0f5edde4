// Package email delivers contact-form submissions to the site owner.
//
// A Dispatcher renders a submission into plain-text and HTML bodies, then
// hands the message to a Transport with throttling and retry-with-backoff.
// The SMTP transports are built on github.com/jordan-wright/email:
//   - PoolTransport reuses authenticated STARTTLS connections (port 587)
//   - TLSTransport dials implicit TLS per message (port 465)
package email

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/DukeRupert/portfolio/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Dispatcher sends contact submissions.
type Dispatcher interface {
	// SendContact delivers sub to receiver. On success the Result carries the
	// Message-Id of the delivered message and the attempt that delivered it.
	SendContact(ctx context.Context, sub domain.ContactSubmission, receiver string) (Result, error)

	// Close releases pooled connections.
	Close() error
}

// Result describes a delivery.
type Result struct {
	MessageID string
	Attempts  int
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname
	Port     int    // 465 selects implicit TLS; anything else uses STARTTLS when offered
	Username string // Authentication user; also the envelope sender
	Password string
	PoolSize int // Maximum pooled connections. Default: 5
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ImplicitTLS reports whether the port expects TLS from the first byte.
func (c SMTPConfig) ImplicitTLS() bool {
	return c.Port == 465
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	DefaultPoolSize      = 5
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = time.Second
	DefaultSendTimeout   = 30 * time.Second
	DefaultRatePerSecond = 1.0

	// MailerName is sent in the X-Mailer header.
	MailerName = "Portfolio Contact Form"
)

func subjectFor(name string) string {
	return fmt.Sprintf("Portfolio Contact: %s", name)
}
