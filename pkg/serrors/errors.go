package serrors

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// BaseError is the structured error shape shared across modules. Code is a stable
// machine-readable identifier, LocaleKey points at a translatable message.
type BaseError struct {
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	LocaleKey    string            `json:"locale_key,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
}

func (e *BaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	e.TemplateData = data
	return e
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func NewFieldRequiredError(field, localeKey string) *BaseError {
	return NewError(
		"FIELD_REQUIRED",
		fmt.Sprintf("%s is required", field),
		localeKey,
	).WithTemplateData(map[string]string{"field": field})
}

// ValidationErrors maps field names to their validation failures.
type ValidationErrors map[string]*BaseError

func (v ValidationErrors) Error() string {
	for field, err := range v {
		return fmt.Sprintf("validation failed on %s: %s", field, err.Message)
	}
	return "validation failed"
}

// ProcessValidatorErrors converts go-playground validator errors into BaseErrors
// keyed by struct field name. getFieldLocaleKey may return "" when no locale entry
// exists for a field.
func ProcessValidatorErrors(errs validator.ValidationErrors, getFieldLocaleKey func(field string) string) map[string]*BaseError {
	out := make(map[string]*BaseError, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = NewFieldRequiredError(field, getFieldLocaleKey(field))
		default:
			out[field] = NewError(
				"FIELD_INVALID",
				fmt.Sprintf("%s failed %s validation", field, fe.Tag()),
				getFieldLocaleKey(field),
			).WithTemplateData(map[string]string{"field": field, "tag": fe.Tag()})
		}
	}
	return out
}
