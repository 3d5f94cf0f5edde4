package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/DukeRupert/portfolio/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(
	template.New("email").Funcs(emailTemplateFuncs()).ParseFS(templateFS, "templates/*.html"),
)

const receivedAtLayout = "Mon, 02 Jan 2006 15:04:05 MST"

// renderContact returns the plain-text and HTML bodies for sub.
func renderContact(sub domain.ContactSubmission, receivedAt time.Time) (text, html []byte, err error) {
	data := map[string]interface{}{
		"Name":       sub.Name,
		"Email":      sub.Email,
		"Message":    sub.Message,
		"ReceivedAt": receivedAt.Format(receivedAtLayout),
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "contact.html", data); err != nil {
		return nil, nil, fmt.Errorf("failed to render contact email template: %w", err)
	}

	textBody := fmt.Sprintf(`Name: %s
Email: %s
Message:
%s

---
Sent from: %s
Time: %s
`, sub.Name, sub.Email, sub.Message, MailerName, receivedAt.Format(receivedAtLayout))

	return []byte(textBody), buf.Bytes(), nil
}

// =============================================================================
// Template Functions
// =============================================================================

// emailTemplateFuncs returns template functions available in email templates.
func emailTemplateFuncs() template.FuncMap {
	return template.FuncMap{
		// nl2br escapes s and turns line breaks into <br>.
		"nl2br": func(s string) template.HTML {
			escaped := template.HTMLEscapeString(strings.ReplaceAll(s, "\r\n", "\n"))
			return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
		},
	}
}
