package services

import (
	"errors"
	"fmt"
	"strings"
)

// Failure markers. Each one names a class in the job error taxonomy; wrap
// errors with Wrap so callers can classify them with errors.Is.
var (
	ErrTransient       = errors.New("transient item failure")
	ErrPermanent       = errors.New("permanent item failure")
	ErrSystemic        = errors.New("systemic failure")
	ErrDataConsistency = errors.New("data consistency failure")
	ErrAggregation     = errors.New("aggregation failure")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrCancelled       = errors.New("cancelled")
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrPermanent
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the taxonomy name for err, suitable for log fields and API payloads.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrDataConsistency):
		return "data_consistency"
	case errors.Is(err, ErrAggregation):
		return "aggregation"
	case errors.Is(err, ErrSystemic):
		return "systemic"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "permanent"
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
