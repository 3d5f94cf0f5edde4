package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/portfolio/internal/csrf"
	"github.com/DukeRupert/portfolio/internal/domain"
	"github.com/DukeRupert/portfolio/internal/httpx"
	"github.com/DukeRupert/portfolio/internal/middleware"
)

// HeaderSessionID carries the CSRF session id on both endpoints.
const HeaderSessionID = "X-Session-ID"

// HeaderCSRFToken carries the CSRF token on state-changing requests.
const HeaderCSRFToken = "X-CSRF-Token"

// CSRFTokenResponse is the data payload of GET /api/csrf-token.
type CSRFTokenResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
	ExpiresIn int    `json:"expiresIn"` // seconds
	Message   string `json:"message"`
}

// CSRFHandler issues anti-forgery tokens.
type CSRFHandler struct {
	manager *csrf.Manager
	logger  *slog.Logger
}

// NewCSRFHandler creates a new CSRFHandler.
func NewCSRFHandler(manager *csrf.Manager, logger *slog.Logger) *CSRFHandler {
	return &CSRFHandler{
		manager: manager,
		logger:  logger,
	}
}

// Token returns the token for the caller's session, minting one if needed.
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request, rc domain.RequestContext) error {
	const op = "handler.CSRFToken"
	logger := middleware.LoggerFromContext(r.Context(), h.logger)

	issued, err := h.manager.Issue(r.Context(), r.Header.Get(HeaderSessionID), rc.IP, rc.UserAgent)
	if err != nil {
		return domain.Wrap(err, domain.ECSRFGEN, op, "Failed to generate CSRF token")
	}

	logger.Info("CSRF token issued",
		"session", csrf.ShortID(issued.SessionID),
		"is_new", issued.IsNew,
		"ip", rc.IP,
	)

	message := "Existing CSRF token retrieved"
	if issued.IsNew {
		message = "New CSRF token generated"
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	httpx.WriteSuccess(w, http.StatusOK, rc.RequestID, CSRFTokenResponse{
		Token:     issued.Token,
		SessionID: issued.SessionID,
		ExpiresIn: int(issued.ExpiresIn.Seconds()),
		Message:   message,
	})
	return nil
}
