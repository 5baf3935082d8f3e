package server

import (
	"errors"
)

// ErrorKind classifies lifecycle errors by how they are reported to the invoking user.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindValidation
	ErrorKindPermission
	ErrorKindNotFound
	ErrorKindConflict
	ErrorKindExternalIO
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindValidation:
		return "validation"
	case ErrorKindPermission:
		return "permission"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindConflict:
		return "conflict"
	case ErrorKindExternalIO:
		return "external_io"
	default:
		return "unknown"
	}
}

// UserFacing reports whether errors of this kind carry a message safe to show the user.
func (k ErrorKind) UserFacing() bool {
	switch k {
	case ErrorKindValidation, ErrorKindPermission, ErrorKindNotFound, ErrorKindConflict:
		return true
	default:
		return false
	}
}

type kindError struct {
	kind ErrorKind
	msg  string
}

func newKindError(kind ErrorKind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Kind() ErrorKind { return e.kind }

// ExternalIOError wraps a failure of the chat platform or of durable storage.
type ExternalIOError struct {
	Op  string
	Err error
}

func (e *ExternalIOError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *ExternalIOError) Unwrap() error { return e.Err }
func (e *ExternalIOError) Kind() ErrorKind { return ErrorKindExternalIO }

func externalIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalIOError{Op: op, Err: err}
}

var (
	ErrUnknownGame         = newKindError(ErrorKindValidation, "Game not found!")
	ErrReasonRequired      = newKindError(ErrorKindValidation, "A reason is required.")
	ErrInvalidRequestID    = newKindError(ErrorKindValidation, "That is not a valid play request ID.")
	ErrRequesterBanned     = newKindError(ErrorKindPermission, "You are banned from making play requests!")
	ErrRateLimited         = newKindError(ErrorKindPermission, "You are making play requests too quickly. Please wait a moment.")
	ErrNotPermitted        = newKindError(ErrorKindPermission, "You do not have permission to do that.")
	ErrPlayRequestNotFound = newKindError(ErrorKindNotFound, "Play request not found!")
	ErrAlreadyAccepted     = newKindError(ErrorKindConflict, "You have already accepted this request.")
	ErrAlreadyDenied       = newKindError(ErrorKindConflict, "You have already denied this request.")
	ErrAlreadyBanned       = newKindError(ErrorKindConflict, "That user is already banned.")
	ErrNotBanned           = newKindError(ErrorKindConflict, "That user is not banned.")
	ErrRequestIDExhausted  = errors.New("unable to allocate a free play request id")
)

// ErrorKindOf returns the kind of the first classified error in err's chain.
func ErrorKindOf(err error) ErrorKind {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ErrorKindUnknown
}
