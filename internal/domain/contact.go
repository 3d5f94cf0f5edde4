package domain

import "time"

// ContactSubmission is a validated contact-form payload. It is transient:
// it is used once to compose an email and never persisted.
type ContactSubmission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// RequestContext carries per-request correlation data. It lives only for the
// duration of a single request.
type RequestContext struct {
	RequestID string
	StartTime time.Time
	IP        string
	UserAgent string
}

// Elapsed returns the time spent on the request so far.
func (rc RequestContext) Elapsed() time.Duration {
	return time.Since(rc.StartTime)
}
