// Package errors defines the coded error type shared by every service.
//
// Errors carry a machine-readable Code, a human-readable Msg, the logical
// operation Op where they happened, and an optional wrapped Err.
//
//	&errors.Error{Code: errors.ENotFound, Msg: "order not found"}
//	&errors.Error{Code: errors.EInternal, Op: "order.Create", Err: err}
package errors

import (
	"errors"
	"fmt"
	"strings"
)

const (
	EInternal            = "internal error"
	ENotFound            = "not found"
	EConflict            = "conflict"
	EInvalid             = "invalid"
	EUnprocessableEntity = "unprocessable entity"
	EUnavailable         = "unavailable"
	EForbidden           = "forbidden"
	ETooManyRequests     = "too many requests"
	EUnauthorized        = "unauthorized"
	EMethodNotAllowed    = "method not allowed"
	ETooLarge            = "request too large"
)

type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface by writing out the recursive messages.
func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		var b strings.Builder
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	} else if e.Msg != "" {
		return e.Msg
	} else if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("<%s>", e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode returns the code of the root error, if available; otherwise returns EInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return EInternal
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Err != nil {
		return ErrorCode(e.Err)
	}
	return EInternal
}

// ErrorMessage returns the human-readable message of the error, if available.
// Otherwise returns a generic error message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return "An internal error has occurred."
	}
	if e.Code == EInternal || (e.Code == "" && e.Msg == "") {
		if e.Err != nil {
			return ErrorMessage(e.Err)
		}
		return "An internal error has occurred."
	}
	return e.Error()
}

func New(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Invalidf(format string, args ...any) *Error {
	return &Error{Code: EInvalid, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return &Error{Code: ENotFound, Msg: what + " not found"}
}

// Wrap tags err as internal for op unless it already carries a code.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: EInternal, Op: op, Err: err}
}

// Is reports whether err carries code.
func Is(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}
