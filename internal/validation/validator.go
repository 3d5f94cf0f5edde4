// Package validation sanitizes and validates contact-form input and process
// configuration.
package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

var personName = regexp.MustCompile(`^[\p{L}\s'-]+$`)

// New returns a configured validator with the custom tags used by this
// service registered:
//
//	personname    letters, whitespace, hyphens and apostrophes only
//	domainlabels  the part after '@' has at least two non-empty labels
//
// Field names in errors come from the env tag, then the json tag.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(fieldName)
	_ = v.RegisterValidation("personname", validatePersonName)
	_ = v.RegisterValidation("domainlabels", validateDomainLabels)

	return v
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"env", "json"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

func validatePersonName(fl validatorv10.FieldLevel) bool {
	return personName.MatchString(fl.Field().String())
}

func validateDomainLabels(fl validatorv10.FieldLevel) bool {
	s := fl.Field().String()
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return false
	}
	labels := strings.Split(s[at+1:], ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" {
			return false
		}
	}
	return true
}
