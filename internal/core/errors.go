package core

import (
	"errors"
	"strings"
)

// Field names used in validation errors and form payloads.
const (
	FieldID          = "id"
	FieldDescription = "description"
	FieldDate        = "date"
	FieldAmount      = "amount"
)

// FieldError ties a validation failure to the form field that caused it.
type FieldError struct {
	Field string
	Err   error
}

// ValidationError collects every field failure of a save attempt.
type ValidationError struct {
	Fields []FieldError
}

// Add records a failure for field.
func (v *ValidationError) Add(field string, err error) {
	v.Fields = append(v.Fields, FieldError{Field: field, Err: err})
}

// HasErrors reports whether any field failed.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.Fields) > 0
}

// Field returns the message for field, or "" when it passed.
func (v *ValidationError) Field(field string) string {
	if v == nil {
		return ""
	}
	for _, fe := range v.Fields {
		if fe.Field == field {
			return fe.Err.Error()
		}
	}
	return ""
}

// Map returns field -> message, convenient for templates.
func (v *ValidationError) Map() map[string]string {
	if v == nil {
		return nil
	}
	out := make(map[string]string, len(v.Fields))
	for _, fe := range v.Fields {
		out[fe.Field] = fe.Err.Error()
	}
	return out
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for _, fe := range v.Fields {
		parts = append(parts, fe.Field+": "+fe.Err.Error())
	}
	return "invalid expense: " + strings.Join(parts, "; ")
}

// Unwrap exposes the field errors to errors.Is.
func (v *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(v.Fields))
	for _, fe := range v.Fields {
		errs = append(errs, fe.Err)
	}
	return errs
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
