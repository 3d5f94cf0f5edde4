package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/metrics"
)

// =============================================================================
// SMTP Dispatcher
// =============================================================================

// Options tunes delivery.
type Options struct {
	// MaxRetries is the total number of attempts per message. Default: 3.
	MaxRetries int

	// RetryDelay is the backoff base. The delay before retry n is
	// RetryDelay × n. Default: 1s.
	RetryDelay time.Duration

	// SendTimeout bounds a single attempt. Default: 30s.
	SendTimeout time.Duration

	// RatePerSecond throttles attempts across all senders. Default: 1.
	RatePerSecond float64

	// OnBackoff, if set, is called before each retry delay with the retry
	// number (starting at 1) and the delay about to be waited.
	OnBackoff func(retry int, delay time.Duration)

	// Now overrides the clock used for the received-at timestamp.
	Now func() time.Time
}

// SMTPDispatcher sends contact submissions through a Transport.
type SMTPDispatcher struct {
	transport Transport
	from      string
	msgDomain string

	maxRetries  int
	retryDelay  time.Duration
	sendTimeout time.Duration
	limiter     *rate.Limiter
	onBackoff   func(int, time.Duration)
	now         func() time.Time

	logger *slog.Logger
}

// NewSMTPDispatcher creates a dispatcher that sends as from (the
// authenticated mailbox) through transport.
func NewSMTPDispatcher(transport Transport, from string, opts Options, logger *slog.Logger) *SMTPDispatcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultRatePerSecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	msgDomain := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		msgDomain = from[at+1:]
	}

	return &SMTPDispatcher{
		transport:   transport,
		from:        from,
		msgDomain:   msgDomain,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
		sendTimeout: opts.SendTimeout,
		limiter:     rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		onBackoff:   opts.OnBackoff,
		now:         opts.Now,
		logger:      logger,
	}
}

// SendContact renders sub and delivers it to receiver, retrying transient
// failures up to MaxRetries attempts in total. Each attempt carries a fresh
// Message-Id; the returned one belongs to the attempt that was accepted.
func (d *SMTPDispatcher) SendContact(ctx context.Context, sub domain.ContactSubmission, receiver string) (Result, error) {
	start := time.Now()

	text, html, err := renderContact(sub, d.now())
	if err != nil {
		return Result{}, err
	}

	var (
		attempt   int
		messageID string
	)

	err = retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		attempt++

		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for send slot: %w", err)
		}

		msg := d.compose(sub, receiver, text, html)
		id := msg.Headers.Get("Message-Id")

		d.logger.Info("sending email",
			"attempt", attempt,
			"max_attempts", d.maxRetries,
			"to", receiver,
			"subject", msg.Subject,
		)

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.transport.Send(sendCtx, msg)
		cancel()
		metrics.EmailAttempt(err)

		if err != nil {
			transient := isTransient(err)
			d.logger.Warn("email send attempt failed",
				"attempt", attempt,
				"error", err,
				"will_retry", transient && attempt < d.maxRetries,
			)
			if transient {
				return retry.RetryableError(err)
			}
			return err
		}

		messageID = id
		return nil
	})

	if err != nil {
		metrics.EmailSendDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())
		d.logger.Error("all email send attempts failed",
			"attempts", attempt,
			"error", err,
		)
		return Result{Attempts: attempt}, fmt.Errorf("send contact email after %d attempts: %w", attempt, err)
	}

	metrics.EmailSendDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	d.logger.Info("email sent",
		"message_id", messageID,
		"attempt", attempt,
	)

	return Result{MessageID: messageID, Attempts: attempt}, nil
}

// Close releases the transport.
func (d *SMTPDispatcher) Close() error {
	return d.transport.Close()
}

// backoff returns a linear schedule limited to maxRetries-1 retries.
func (d *SMTPDispatcher) backoff() retry.Backoff {
	var n int
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return d.retryDelay * time.Duration(n), false
	})
	limited := retry.WithMaxRetries(uint64(d.maxRetries-1), linear)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := limited.Next()
		if !stop && d.onBackoff != nil {
			d.onBackoff(n, delay)
		}
		return delay, stop
	})
}

func (d *SMTPDispatcher) compose(sub domain.ContactSubmission, receiver string, text, html []byte) *email.Email {
	e := email.NewEmail()
	e.From = (&mail.Address{Name: sub.Name, Address: d.from}).String()
	e.To = []string{receiver}
	e.ReplyTo = []string{sub.Email}
	e.Subject = subjectFor(sub.Name)
	e.Text = text
	e.HTML = html
	e.Headers.Set("Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), d.msgDomain))
	e.Headers.Set("X-Mailer", MailerName)
	e.Headers.Set("X-Priority", "3")
	return e
}

// isTransient reports whether a retry could succeed. Permanent SMTP replies
// (5xx) and caller cancellation are not retried.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return false
	}
	return true
}

var _ Dispatcher = (*SMTPDispatcher)(nil)
