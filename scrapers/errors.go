package scrapers

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigation marks a portal that is unreachable or did not render the
	// expected UI in time. It is worth retrying.
	ErrNavigation = errors.New("portal navigation failed")

	// ErrSessionLost means the browser itself is gone. Nothing can be retried
	// on this session.
	ErrSessionLost = errors.New("browser session lost")

	// ErrNoCertificate means the result row has no PDF certificate action
	ErrNoCertificate = errors.New("no PDF certificate offered for entry")
)

// NavigationError records which step of a portal interaction failed
type NavigationError struct {
	Op  string
	Err error
}

func (e *NavigationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrNavigation, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrNavigation, e.Op, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func (e *NavigationError) Is(target error) bool { return target == ErrNavigation }

// IsRetryable reports whether err is a transient navigation failure
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNavigation) && !errors.Is(err, ErrSessionLost)
}
