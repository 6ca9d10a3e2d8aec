package utils

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError for callers that dispatch on failure class
// rather than on message text.
type Kind int

const (
	// KindUnknown is the zero value; errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindConfiguration covers missing/inactive accounts and credential
	// decryption failures. Fatal to the call, surfaced unchanged.
	KindConfiguration
	// KindTransient covers connect, authenticate and transport failures
	// against the mail server. Retryable by the caller, never retried here.
	KindTransient
	// KindService covers server-side protocol failures such as a mailbox
	// that cannot be opened.
	KindService
	// KindParse covers a single malformed message. Recovered locally: the
	// message is logged and skipped, the batch continues.
	KindParse
	// KindPersistence covers cache upsert or trim failures. Aborts the sync
	// transaction; the watermark is not advanced.
	KindPersistence
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransient:
		return "transient"
	case KindService:
		return "service"
	case KindParse:
		return "parse"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// AppError is a typed application error. Message is safe to show to callers;
// the wrapped Err carries protocol/stack detail and is logged server-side
// only.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Common error constructors
func ConfigurationError(message string, err error) *AppError {
	return &AppError{Kind: KindConfiguration, Message: message, Err: err}
}

func TransientError(message string, err error) *AppError {
	return &AppError{Kind: KindTransient, Message: message, Err: err}
}

func ServiceError(message string, err error) *AppError {
	return &AppError{Kind: KindService, Message: message, Err: err}
}

func ParseError(message string, err error) *AppError {
	return &AppError{Kind: KindParse, Message: message, Err: err}
}

func PersistenceError(message string, err error) *AppError {
	return &AppError{Kind: KindPersistence, Message: message, Err: err}
}
