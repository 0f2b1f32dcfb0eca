package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation error")
	ErrStateConflict = errors.New("state conflict")
	ErrKeyInvalid    = errors.New("invalid encryption key")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// Class names returned by Classify.
const (
	ClassNotFound      = "not_found"
	ClassValidation    = "validation"
	ClassStateConflict = "state_conflict"
	ClassKeyInvalid    = "key_invalid"
	ClassConfiguration = "configuration"
	ClassTransient     = "transient"
	ClassInternal      = "internal"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto its class name. Errors carrying no marker are
// reported as internal.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case errors.Is(err, ErrStateConflict):
		return ClassStateConflict
	case errors.Is(err, ErrKeyInvalid):
		return ClassKeyInvalid
	case errors.Is(err, ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, ErrTransient):
		return ClassTransient
	default:
		return ClassInternal
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
