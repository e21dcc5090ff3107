package abtest

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of these.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrConflict             = errors.New("conflict")
)

var (
	ErrNotATest       = fmt.Errorf("%w: campaign is not configured as an A/B test", ErrNotFound)
	ErrAlreadyATest   = fmt.Errorf("%w: campaign is already an A/B test", ErrInvalidConfiguration)
	ErrNoRecipients   = fmt.Errorf("%w: no eligible recipients", ErrInvalidConfiguration)
	ErrNoVariants     = fmt.Errorf("%w: no variants configured", ErrInvalidConfiguration)
	ErrAlreadySent    = fmt.Errorf("%w: test has already been sent", ErrInvalidConfiguration)
	ErrNotSent        = fmt.Errorf("%w: test has not been sent", ErrInvalidConfiguration)
	ErrTestCompleted  = fmt.Errorf("%w: test already completed", ErrInvalidConfiguration)
	ErrTestInProgress = fmt.Errorf("%w: cannot delete a test that is testing or completed", ErrInvalidConfiguration)
)

// Kind names used by API callers
const (
	KindNotFound             = "not_found"
	KindInvalidConfiguration = "invalid_configuration"
	KindConflict             = "conflict"
	KindInternal             = "internal"
)

// KindOf classifies err into one of the error kinds
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidConfiguration):
		return KindInvalidConfiguration
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the operation may succeed if repeated
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfiguration}, args...)...)
}
