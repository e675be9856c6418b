package model

import "errors"

// ErrNotFound is returned by stores when no record exists for a key.
var ErrNotFound = errors.New("not found")

// Kind classifies a failed generation request as seen by its caller.
type Kind string

// Failure kinds. Every kind is terminal for the call; nothing is retried.
const (
	KindInvalidTarget     Kind = "InvalidTarget"
	KindAuthRequired      Kind = "AuthRequired"
	KindAuthExpired       Kind = "AuthExpiredDuringCall"
	KindRemote            Kind = "RemoteError"
	KindMalformedResponse Kind = "MalformedResponse"
)

// Sentinels matched through GenerationError.Unwrap.
var (
	ErrInvalidTarget     = errors.New("invalid target")
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthExpired       = errors.New("authentication expired during call")
	ErrRemote            = errors.New("remote generation failed")
	ErrMalformedResponse = errors.New("malformed generation response")
)

// GenerationError is the failure returned by a generation request. Detail is
// the user-facing message, also persisted for FAILED records.
type GenerationError struct {
	Kind   Kind
	Detail string
	Err    error
}

// NewGenerationError builds a GenerationError with an optional cause.
func NewGenerationError(kind Kind, detail string, cause error) *GenerationError {
	return &GenerationError{Kind: kind, Detail: detail, Err: cause}
}

func (e *GenerationError) Error() string {
	return e.Detail
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *GenerationError) Unwrap() []error {
	errs := []error{kindSentinel(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the failure kind carried by err, or "" when err is not a
// GenerationError.
func KindOf(err error) Kind {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func kindSentinel(k Kind) error {
	switch k {
	case KindInvalidTarget:
		return ErrInvalidTarget
	case KindAuthRequired:
		return ErrAuthRequired
	case KindAuthExpired:
		return ErrAuthExpired
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return ErrRemote
	}
}
