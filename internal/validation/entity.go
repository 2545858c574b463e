// Package validation checks entities before they are stored and the
// fields of API requests.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is the sentinel every entity validation failure unwraps to.
var ErrInvalid = errors.New("validation failed")

// FieldError is one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a list of field failures. Checks are collected with Add so a
// caller can report every bad field at once.
type Errors []FieldError

// Add appends fe unless it is nil.
func (e *Errors) Add(fe *FieldError) {
	if fe != nil {
		*e = append(*e, *fe)
	}
}

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + " " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e Errors) Unwrap() error { return ErrInvalid }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		// translated: at least one language carries a non-empty value
		_ = validate.RegisterValidation("translated", func(fl validator.FieldLevel) bool {
			f := fl.Field()
			if f.Kind() != reflect.Map {
				return false
			}
			iter := f.MapRange()
			for iter.Next() {
				if strings.TrimSpace(iter.Value().String()) != "" {
					return true
				}
			}
			return false
		})
	})
	return validate
}

// Entity validates struct tags on an entity before it is persisted.
// The returned error is an Errors value.
func Entity(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var errs Errors
	for _, fe := range fieldErrs {
		errs.Add(&FieldError{Field: fe.Field(), Message: tagMessage(fe)})
	}
	return errs
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "translated":
		return "needs a value in at least one language"
	default:
		return "failed " + fe.Tag()
	}
}

// Text checks a free-text value from a feed or a request: valid UTF-8,
// no null bytes and at most max runes.
func Text(field, value string, max int) *FieldError {
	switch {
	case !utf8.ValidString(value):
		return &FieldError{Field: field, Message: "must be valid UTF-8"}
	case strings.Contains(value, "\x00"):
		return &FieldError{Field: field, Message: "must not contain null bytes"}
	case utf8.RuneCountInString(value) > max:
		return &FieldError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d characters", max)}
	}
	return nil
}

// OneOf rejects a value outside allowed. Matching is case-sensitive.
func OneOf(field, value string, allowed []string) *FieldError {
	if slices.Contains(allowed, value) {
		return nil
	}
	return &FieldError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
}

// IntRange rejects a value outside [min, max].
func IntRange(field string, value, min, max int) *FieldError {
	if value < min || value > max {
		return &FieldError{Field: field, Message: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return nil
}
