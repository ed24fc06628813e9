// SPDX-License-Identifier: Apache-2.0

// Package tkserr defines the error taxonomy shared by every component of
// the secrets daemon. A single Kind enum is mapped to D-Bus error names at
// the service boundary, mirroring the bridge pattern keyring daemons use to
// keep backend-specific error types from leaking onto the wire.
package tkserr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so that callers (and the D-Bus boundary) can
// react without string-matching messages.
type Kind int

const (
	// KindInternal covers anything that doesn't fit a more specific kind.
	KindInternal Kind = iota
	KindParameter
	KindNotFound
	KindDuplicate
	KindPermissionDenied
	KindCrypto
	KindBackend
	KindLocking
	KindConfiguration
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindParameter:
		return "ParameterError"
	case KindNotFound:
		return "NotFound"
	case KindDuplicate:
		return "Duplicate"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindCrypto:
		return "CryptoError"
	case KindBackend:
		return "BackendError"
	case KindLocking:
		return "LockingError"
	case KindConfiguration:
		return "ConfigurationError"
	case KindNotSupported:
		return "NotSupported"
	default:
		return "InternalError"
	}
}

// Error is the single error type threaded through every component. Target
// optionally names the object the error concerns (a collection name, item
// uuid, alias), following the same shape as the teacher's backend.ErrNotFound.
type Error struct {
	Kind    Kind
	Target  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Target != "" {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %s", e.Kind, e.Target, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Target)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func new_(k Kind, target, msg string, wrapped error) *Error {
	return &Error{Kind: k, Target: target, Message: msg, Err: wrapped}
}

func Parameter(msg string) error        { return new_(KindParameter, "", msg, nil) }
func NotFound(target string) error      { return new_(KindNotFound, target, "", nil) }
func Duplicate(target string) error     { return new_(KindDuplicate, target, "", nil) }
func PermissionDenied(msg string) error { return new_(KindPermissionDenied, "", msg, nil) }
func Crypto(msg string, err error) error {
	return new_(KindCrypto, "", msg, err)
}
func Backend(msg string, err error) error {
	return new_(KindBackend, "", msg, err)
}
func Locking(msg string) error       { return new_(KindLocking, "", msg, nil) }
func Configuration(msg string, err error) error {
	return new_(KindConfiguration, "", msg, err)
}
func NotSupported(msg string) error { return new_(KindNotSupported, "", msg, nil) }

// KindOf returns the Kind of err, or KindInternal if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
