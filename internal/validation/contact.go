package validation

import (
	"errors"
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/DukeRupert/portfolio/internal/domain"
)

// contactForm carries the rules for a submission. Tags run left to right and
// stop at the first failure, so each field reports one message.
type contactForm struct {
	Name    string `json:"name" validate:"required,min=2,max=100,personname"`
	Email   string `json:"email" validate:"required,max=254,email,domainlabels"`
	Message string `json:"message" validate:"required,min=10,max=2000"`
}

var contactMessages = map[string]map[string]string{
	"name": {
		"required":   "Name is required",
		"min":        "Name must be at least 2 characters long",
		"max":        "Name must not exceed 100 characters",
		"personname": "Name can only contain letters, spaces, hyphens, and apostrophes",
	},
	"email": {
		"required":     "Email is required",
		"max":          "Email must not exceed 254 characters",
		"email":        "Please provide a valid email address",
		"domainlabels": "Please provide a valid email address",
	},
	"message": {
		"required": "Message is required",
		"min":      "Message must be at least 10 characters long",
		"max":      "Message must not exceed 2000 characters",
	},
}

var contactValidator = New()

// ValidateContactForm checks every field of in and returns it unchanged on
// success. On failure it returns a *domain.ValidationError listing each
// failing field in form order (name, email, message); valid fields are not
// reported.
func ValidateContactForm(in domain.ContactSubmission) (domain.ContactSubmission, error) {
	const op = "validation.ValidateContactForm"

	err := contactValidator.Struct(contactForm{
		Name:    in.Name,
		Email:   in.Email,
		Message: in.Message,
	})
	if err == nil {
		return in, nil
	}

	var fieldErrs validatorv10.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.ContactSubmission{}, fmt.Errorf("validate contact form: %w", err)
	}

	ve := &domain.ValidationError{Op: op}
	for _, fe := range fieldErrs {
		ve.Add(fe.Field(), contactMessage(fe.Field(), fe.Tag()))
	}
	return domain.ContactSubmission{}, ve
}

func contactMessage(field, tag string) string {
	if msg, ok := contactMessages[field][tag]; ok {
		return msg
	}
	return "Invalid value"
}
