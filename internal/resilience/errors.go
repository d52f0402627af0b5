package resilience

import (
	"errors"
	"os"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry. ExitCode carries the
// engine's exit status when the failure came from a subprocess.
type TransientError struct {
	Err      error
	ExitCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error, exitCode int) *TransientError {
	return &TransientError{Err: err, ExitCode: exitCode}
}

// transientErrnos are filesystem conditions seen on shared instrument storage
// that clear on their own.
var transientErrnos = []syscall.Errno{
	syscall.EAGAIN,
	syscall.EBUSY,
	syscall.EINTR,
	syscall.ESTALE,
	syscall.ETIMEDOUT,
}

var transientPatterns = []string{
	"stale file handle",
	"resource temporarily unavailable",
	"device or resource busy",
	"text file busy",
}

// IsTransient reports whether err (or anything it wraps) is a TransientError,
// a deadline expiry, or a temporary filesystem condition.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientExitCode reports whether an engine exit status signals a
// condition worth retrying: killed by a signal or the conventional
// temporary-failure code.
func IsTransientExitCode(code int) bool {
	switch {
	case code == 75: // EX_TEMPFAIL
		return true
	case code > 128: // terminated by signal
		return true
	default:
		return false
	}
}
