// Package domain defines the error taxonomy shared across the service.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP boundary and the job state machine.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindRender     Kind = "render"
	KindFetch      Kind = "fetch"
	KindAnalysis   Kind = "analysis"
	KindInternal   Kind = "internal"
)

// Error carries a kind plus a human-readable message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error        { return New(KindValidation, message, nil) }
func NotFound(message string) *Error          { return New(KindNotFound, message, nil) }
func Conflict(message string) *Error          { return New(KindConflict, message, nil) }
func Render(message string, err error) *Error { return New(KindRender, message, err) }
func Fetch(message string, err error) *Error  { return New(KindFetch, message, err) }
func Analysis(message string, err error) *Error {
	return New(KindAnalysis, message, err)
}

// KindOf returns the kind of err, or KindInternal when err is not a domain
// error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
