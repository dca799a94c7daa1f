// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package apperr provides the unified error taxonomy for the orchestrator.
package apperr

import (
	"fmt"
	"net/http"
)

// Kind identifies the category of an orchestrator error.
type Kind string

const (
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindConflict           Kind = "CONFLICT"
	KindNotFound           Kind = "NOT_FOUND"
	KindStateTransition    Kind = "STATE_TRANSITION_ERROR"
	KindScannerError       Kind = "SCANNER_ERROR"
	KindTimeout            Kind = "TIMEOUT"
	KindCircuitOpen        Kind = "CIRCUIT_OPEN"
	KindStorageError       Kind = "STORAGE_ERROR"
	KindInternal           Kind = "INTERNAL_ERROR"
)

var statusByKind = map[Kind]int{
	KindInvalidArgument: http.StatusBadRequest,
	KindConflict:        http.StatusConflict,
	KindNotFound:        http.StatusNotFound,
	KindStateTransition: http.StatusConflict,
	KindScannerError:    http.StatusBadGateway,
	KindTimeout:         http.StatusGatewayTimeout,
	KindCircuitOpen:     http.StatusServiceUnavailable,
	KindStorageError:    http.StatusInternalServerError,
	KindInternal:        http.StatusInternalServerError,
}

// Error is an application error carrying a machine-readable kind, an HTTP
// status, and an optionally wrapped cause.
type Error struct {
	Kind       Kind   `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind without wrapping a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: statusByKind[kind]}
}

// Wrap creates an Error of the given kind wrapping an existing error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, StatusCode: statusByKind[kind], Err: err}
}

func NewInvalidArgument(message string) *Error  { return New(KindInvalidArgument, message) }
func NewConflict(message string) *Error         { return New(KindConflict, message) }
func NewNotFound(message string) *Error         { return New(KindNotFound, message) }
func NewStateTransition(message string) *Error  { return New(KindStateTransition, message) }
func NewTimeout(message string) *Error          { return New(KindTimeout, message) }
func NewCircuitOpen(message string) *Error      { return New(KindCircuitOpen, message) }

func WrapScannerError(err error, message string) *Error { return Wrap(err, KindScannerError, message) }
func WrapStorageError(err error, message string) *Error { return Wrap(err, KindStorageError, message) }
func WrapInternal(err error, message string) *Error     { return Wrap(err, KindInternal, message) }

// Is reports whether err (or something it wraps) is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
