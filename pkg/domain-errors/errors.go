// Package domainerrors defines the coded error type returned across service
// boundaries. Stores return sentinel facts (pkg/platform/sentinel); services
// translate them into coded errors; transports map codes to status codes.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure. Codes are stable strings because they are part of
// the HTTP error envelope.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// Key registry failure kinds.
	CodeInvalidState      Code = "invalid_state"
	CodeInvalidMetadata   Code = "invalid_metadata"
	CodeValidatorNotFound Code = "validator_not_found"
	CodeInvalidSignature  Code = "invalid_signature"
	CodeSignatureExpired  Code = "signature_expired"
	CodeCapacityExceeded  Code = "capacity_exceeded"
	CodeAlreadyMigrated   Code = "already_migrated"
	CodePermissionRevoked Code = "permission_revoked"
	CodeInvalidBatch      Code = "invalid_batch"
	CodePaused            Code = "paused"
	CodeNotPaused         Code = "not_paused"
	CodeGatewayFrozen     Code = "gateway_frozen"
	CodeRateLimited       Code = "rate_limited"
)

// Error carries a code, a client-safe message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without an underlying cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in the chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// MessageOf returns the client-safe message of the outermost coded error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
