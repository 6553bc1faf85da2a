package extract

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"docbatch/internal/services"
)

type classifiedError struct {
	marker error
	err    error
}

func (e *classifiedError) Error() string {
	if e.err == nil {
		return e.marker.Error()
	}
	return e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	if e.err == nil {
		return []error{e.marker}
	}
	return []error{e.marker, e.err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{marker: services.ErrTransient, err: err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{marker: services.ErrPermanent, err: err}
}

var transientHints = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"broken pipe",
	"unexpected eof",
}

// IsTransient reports whether err looks like a network or timeout failure.
// Explicit markers win over heuristics; cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, services.ErrPermanent) {
		return false
	}
	if errors.Is(err, services.ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
