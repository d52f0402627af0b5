// Package fault defines the closed set of error kinds raised by the reduction
// pipeline and whether each kind is fatal to the whole job.
package fault

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = iota
	// KindConfig covers unresolvable paths, unsupported file names and
	// acquisition dates outside every calibration era.
	KindConfig
	// KindParse covers malformed tabular record files.
	KindParse
	// KindMatch covers missing or ambiguous vanadium matches.
	KindMatch
	// KindUnsupportedBankCount covers binning requests for an unknown bank layout.
	KindUnsupportedBankCount
	// KindIOAccess covers unwritable directories and missing input files.
	KindIOAccess
	// KindEngine covers failures of the external reduction engine.
	KindEngine
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindParse:
		return "parse"
	case KindMatch:
		return "match"
	case KindUnsupportedBankCount:
		return "unsupported_bank_count"
	case KindIOAccess:
		return "io_access"
	case KindEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind aborts the whole reduction job.
// Parse, bank-count and I/O errors are fatal only to the step that raised them;
// the orchestrator decides per step whether that step is itself job-fatal.
func (k Kind) Fatal() bool {
	switch k {
	case KindConfig, KindEngine:
		return true
	default:
		return false
	}
}

// Error is a kinded pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error aborts the job.
func (e *Error) Fatal() bool {
	return e.Kind.Fatal()
}

// New returns a kinded error with a plain message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: eris.New(msg)}
}

// Errorf returns a kinded error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: eris.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first kinded error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatal reports whether err aborts the whole job. Unkinded errors are
// treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Fatal()
	}
	return true
}
