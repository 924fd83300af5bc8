// Package gwerrors defines the gateway's typed error kinds shared across
// components, so handlers can classify a failure (and its client-facing
// framing) without string matching.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of client framing and retry
// policy. See the component design for the kind each operation may return.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindConnection     Kind = "connection"
	KindHostKey        Kind = "hostkey"
	KindTransfer       Kind = "transfer"
	KindSystem         Kind = "system"
)

// Error is a classified gateway error wrapping an underlying cause.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no wrapped cause.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap builds a classified error wrapping cause.
func Wrap(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: cause}
}

// As reports whether err is (or wraps) a *Error and returns it.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Well-known error codes referenced directly by name across components.
const (
	CodePoolExhausted      = "PoolExhausted"
	CodeEventQueueFull     = "EventQueueFull"
	CodeAuthMethodDisabled = "AuthMethodDisabled"
	CodeAuthenticationFail = "AuthenticationFailed"
	CodeUnauthorized       = "Unauthorized"
	CodeTransferNotFound   = "TransferNotFound"
	CodeMaxTransfers       = "MaxTransfers"
	CodeInvalidState       = "InvalidState"
	CodeChunkMismatch      = "ChunkMismatch"
	CodeFileTooLarge       = "FileTooLarge"
	CodeExtensionBlocked   = "ExtensionBlocked"
	CodePathForbidden      = "PathForbidden"
	CodeHostKeyMismatch    = "HostKeyMismatch"
	CodeHostKeyRejected    = "HostKeyRejected"
	CodeHostKeyTimeout     = "HostKeyPromptTimeout"
	CodeDialFailed         = "DialFailed"
	CodeExecTimeout        = "ExecTimeout"
	CodeForbiddenTarget    = "ForbiddenTarget"
)
