package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/portfolio/internal/csrf"
	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/email"
	"github.com/DukeRupert/portfolio/internal/httpx"
	"github.com/DukeRupert/portfolio/internal/metrics"
	"github.com/DukeRupert/portfolio/internal/middleware"
	"github.com/DukeRupert/portfolio/internal/validation"
)

// ContactResponse is the data payload of a successful POST /api/send-email.
type ContactResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

// contactRequest is the accepted body shape. Unknown fields are ignored and
// missing fields decode as empty strings so the validator reports them.
type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// ContactHandler accepts contact-form submissions and forwards them by email.
type ContactHandler struct {
	csrf       *csrf.Manager
	dispatcher email.Dispatcher
	receiver   string
	logger     *slog.Logger
}

// NewContactHandler creates a new ContactHandler. receiver is the mailbox
// every submission is delivered to.
func NewContactHandler(manager *csrf.Manager, dispatcher email.Dispatcher, receiver string, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{
		csrf:       manager,
		dispatcher: dispatcher,
		receiver:   receiver,
		logger:     logger,
	}
}

// Send validates the CSRF token and form, then sends the email.
func (h *ContactHandler) Send(w http.ResponseWriter, r *http.Request, rc domain.RequestContext) error {
	const op = "handler.SendEmail"
	logger := middleware.LoggerFromContext(r.Context(), h.logger)

	outcome := "internal_error"
	defer func() {
		metrics.ContactSubmissions.WithLabelValues(outcome).Inc()
	}()

	sessionID := r.Header.Get(HeaderSessionID)
	ok, err := h.csrf.Validate(r.Context(), sessionID, r.Header.Get(HeaderCSRFToken), rc.IP)
	if err != nil {
		return domain.Internal(err, op)
	}
	if !ok {
		outcome = "csrf_rejected"
		logger.Warn("CSRF token validation failed", "session", csrf.ShortID(sessionID), "ip", rc.IP)
		return domain.CSRFInvalid(op)
	}

	var req contactRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		outcome = "invalid_body"
		return domain.InvalidBody(op, err)
	}

	sub, err := validation.ValidateContactForm(validation.SanitizeContact(domain.ContactSubmission{
		Name:    req.Name,
		Email:   req.Email,
		Message: req.Message,
	}))
	if err != nil {
		outcome = "invalid"
		return err
	}

	logger.Info("Attempting to send email", "sender_name", sub.Name, "sender_email", sub.Email)

	res, err := h.dispatcher.SendContact(r.Context(), sub, h.receiver)
	if err != nil {
		outcome = "email_failed"
		return domain.EmailFailed(err, op)
	}

	outcome = "sent"
	logger.Info("Email sent successfully", "message_id", res.MessageID, "attempts", res.Attempts, "duration_ms", rc.Elapsed().Milliseconds())

	httpx.WriteSuccess(w, http.StatusOK, rc.RequestID, ContactResponse{
		Message:   "Email sent successfully",
		MessageID: res.MessageID,
	})
	return nil
}
