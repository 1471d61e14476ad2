// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apperr defines the error taxonomy shared by the service layer and
// the HTTP transport. Domain services return these typed errors and the
// transport maps them to problem responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation marks malformed input.
	KindValidation
	// KindConflict marks a uniqueness violation. ConflictType and
	// ConflictValue name the offending attribute.
	KindConflict
	// KindUnauthorized marks a missing or unusable credential.
	KindUnauthorized
	// KindNotFound marks an absent or invisible resource.
	KindNotFound
	// KindForbidden marks a permission failure on an operation.
	KindForbidden
	// KindExternalDependency marks a failure of a remote system. It is
	// retried by the caller and never surfaced to HTTP clients.
	KindExternalDependency
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindExternalDependency:
		return "external_dependency"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind          Kind
	Message       string
	Op            string
	Err           error
	ConflictType  string
	ConflictValue string
	FieldErrors   []FieldError
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithOp sets the failing operation.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithField appends a field error.
func (e *Error) WithField(field, message string) *Error {
	e.FieldErrors = append(e.FieldErrors, FieldError{Field: field, Message: message})
	return e
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Conflict reports that conflictValue is already taken for conflictType.
func Conflict(conflictType, conflictValue string) *Error {
	return &Error{
		Kind:          KindConflict,
		Message:       fmt.Sprintf("%s '%s' is already in use", conflictType, conflictValue),
		ConflictType:  conflictType,
		ConflictValue: conflictValue,
	}
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func ExternalDependency(message string, err error) *Error {
	return Wrap(KindExternalDependency, message, err)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, err)
}

// As extracts an *Error from anywhere in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetKind returns the Kind of err, or KindUnknown if err carries no *Error.
func GetKind(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}
