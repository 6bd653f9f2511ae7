package payment

import (
	"errors"
	"fmt"
)

// ErrorKind classifies payment failures for callers that need to react differently.
type ErrorKind string

const (
	KindConfiguration   ErrorKind = "configuration"
	KindValidation      ErrorKind = "validation"
	KindSignature       ErrorKind = "signature"
	KindRemote          ErrorKind = "remote"
	KindDeclined        ErrorKind = "declined"
	KindUnknownProvider ErrorKind = "unknown_provider"
)

// Sentinels usable with errors.Is against any *Error of the matching kind.
var (
	ErrConfiguration   = errors.New("payment: configuration error")
	ErrValidation      = errors.New("payment: validation error")
	ErrSignature       = errors.New("payment: signature error")
	ErrRemote          = errors.New("payment: remote error")
	ErrDeclined        = errors.New("payment: declined")
	ErrUnknownProvider = errors.New("payment: unknown provider")
)

var kindSentinels = map[ErrorKind]error{
	KindConfiguration:   ErrConfiguration,
	KindValidation:      ErrValidation,
	KindSignature:       ErrSignature,
	KindRemote:          ErrRemote,
	KindDeclined:        ErrDeclined,
	KindUnknownProvider: ErrUnknownProvider,
}

// Error is the typed failure carried by initiation and verification results.
type Error struct {
	Kind      ErrorKind
	Provider  ProviderKey
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface. Only Message is rendered so wrapped
// transport details never leak into user facing text.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

func newError(kind ErrorKind, provider ProviderKey, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

func configurationError(provider ProviderKey, format string, args ...any) *Error {
	return newError(KindConfiguration, provider, format, args...)
}

func validationError(provider ProviderKey, format string, args ...any) *Error {
	return newError(KindValidation, provider, format, args...)
}

func signatureError(provider ProviderKey, message string) *Error {
	return newError(KindSignature, provider, "%s", message)
}

func declinedError(provider ProviderKey, message string) *Error {
	return newError(KindDeclined, provider, "%s", message)
}

func remoteError(provider ProviderKey, retryable bool, message string, cause error) *Error {
	return &Error{Kind: KindRemote, Provider: provider, Message: message, Retryable: retryable, Err: cause}
}

// KindOf returns the kind of a payment error, or an empty kind for foreign errors.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// IsRetryable reports whether the failure is transient and the caller may try
// again with a fresh initiation attempt.
func IsRetryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return false
}
