package common

import (
	"github.com/pkg/errors"
)

// relay errors
var (
	ErrSignatureInvalid    = errors.New("Invalid signature")
	ErrOracle              = errors.New("forwarder oracle unavailable")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrOverloaded          = errors.New("Overloaded")
	ErrBroadcastFailed     = errors.New("broadcast failed")
	ErrReverted            = errors.New("execution reverted")
	ErrTimeout             = errors.New("receipt timeout")
	ErrNetwork             = errors.New("network error")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrNotFound            = errors.New("not found")
	ErrQueueClosed         = errors.New("queue closed")
	ErrCanceled            = errors.New("submission canceled")
)

// ValidationError reports a malformed request. It is always the caller's fault.
type ValidationError struct {
	Reason string
}

// NewValidationError returns a ValidationError with the reason
func NewValidationError(reason string) error {
	return errors.WithStack(&ValidationError{Reason: reason})
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Stage names the step of the relay pipeline that produced an error
type Stage string

// stages
const (
	StageNone      Stage = ""
	StageShape     Stage = "shape"
	StageSignature Stage = "signature"
	StageOracle    Stage = "oracle"
	StageQueue     Stage = "queue"
	StageExecution Stage = "execution"
)

// StageOf returns the stage that failed for the error
func StageOf(err error) Stage {
	switch {
	case err == nil:
		return StageNone
	case IsValidation(err):
		return StageShape
	case errors.Is(err, ErrSignatureInvalid):
		return StageSignature
	case errors.Is(err, ErrOracle):
		return StageOracle
	case errors.Is(err, ErrOverloaded), errors.Is(err, ErrQueueClosed), errors.Is(err, ErrCanceled):
		return StageQueue
	default:
		return StageExecution
	}
}

// Retryable reports whether the caller may resubmit the same payload unchanged
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrOracle),
		errors.Is(err, ErrNetwork),
		errors.Is(err, ErrBroadcastFailed),
		errors.Is(err, ErrOverloaded),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrQueueClosed),
		errors.Is(err, ErrCanceled):
		return true
	}
	return false
}

// Reason returns the user facing message of the error.
// A ValidationError is reported by its reason only.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}
