package validation

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/DukeRupert/portfolio/internal/domain"
)

// MaxSanitizedLength bounds sanitized input in runes. It sits above every
// field maximum so over-long values still fail validation.
//
// Unlike the 2000 character ceiling of earlier releases, which equalled the
// message maximum and silently cut a 2500 character message down to a valid
// one, a message over 2000 characters is now rejected.
const MaxSanitizedLength = 4096

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// Sanitize normalizes s to NFC, removes angle brackets, trims surrounding
// whitespace and truncates to MaxSanitizedLength runes.
func Sanitize(s string) string {
	s = norm.NFC.String(s)
	s = angleBrackets.Replace(s)
	s = strings.TrimSpace(s)

	if len(s) <= MaxSanitizedLength {
		return s
	}
	n := 0
	for i := range s {
		if n == MaxSanitizedLength {
			return s[:i]
		}
		n++
	}
	return s
}

// SanitizeContact sanitizes every field of a submission.
func SanitizeContact(in domain.ContactSubmission) domain.ContactSubmission {
	return domain.ContactSubmission{
		Name:    Sanitize(in.Name),
		Email:   Sanitize(in.Email),
		Message: Sanitize(in.Message),
	}
}
