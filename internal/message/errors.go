package message

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks bytes that are not a well-formed envelope.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownKind marks an envelope whose kind is not in the closed set.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrInvalid marks a well-formed message that breaks a semantic rule.
	ErrInvalid = errors.New("invalid message")
)

// DecodeError is returned by Decode. Err is ErrMalformed or ErrUnknownKind,
// Cause is the underlying parser error when there is one.
type DecodeError struct {
	Err   error
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

// ValidationError is returned by Validate.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
	// Code is the ErrorNotice code a server should answer with.
	Code int
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s message: %s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s message: %s", e.Kind, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
