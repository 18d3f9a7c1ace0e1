package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError carries the per-field failures of a debtor record
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Map returns the field errors in a form suitable for a JSON column
func (e *ValidationError) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		out[k] = v
	}
	return out
}

// NewValidationError converts validator output into a ValidationError.
// Errors that are not field errors are returned unchanged.
func NewValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		out.Fields[fe.Field()] = msg
	}
	return out
}
