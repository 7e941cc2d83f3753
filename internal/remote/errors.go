package remote

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/MarquesJr132/stock-system/internal/record"
)

// ErrorCode categorizes remote failures.
type ErrorCode string

const (
	// CodeNotFound indicates the addressed row does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeDuplicate indicates a row with the same identity already exists.
	CodeDuplicate ErrorCode = "DUPLICATE"

	// CodeInsufficientStock indicates a stock delta would drive quantity negative.
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"

	// CodeRejected indicates the backend refused the request as invalid.
	CodeRejected ErrorCode = "REJECTED"

	// CodeUnavailable indicates the backend could not be reached or is failing.
	CodeUnavailable ErrorCode = "UNAVAILABLE"
)

// Error is a failure reported by a Backend.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Table is the table the request addressed, if any.
	Table record.Table

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Table != "" {
		return fmt.Sprintf("%s: %s (table=%s)", e.Code, msg, e.Table)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a formatted message.
func NewError(code ErrorCode, table record.Table, format string, args ...any) *Error {
	return &Error{Code: code, Table: table, Message: fmt.Sprintf(format, args...)}
}

// Unavailable wraps err as an UNAVAILABLE error.
func Unavailable(table record.Table, err error) *Error {
	return &Error{Code: CodeUnavailable, Table: table, Message: "backend unavailable", Err: err}
}

// CodeOf returns the code of the first Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound returns true if the error is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsDuplicate returns true if the error is a DUPLICATE error.
func IsDuplicate(err error) bool {
	return CodeOf(err) == CodeDuplicate
}

// IsInsufficientStock returns true if the error is an INSUFFICIENT_STOCK error.
func IsInsufficientStock(err error) bool {
	return CodeOf(err) == CodeInsufficientStock
}

// IsTransient reports whether err is a connectivity failure: the request may
// succeed if retried later. Timeouts, network errors, dropped connections and
// UNAVAILABLE errors are transient; everything else is a definitive answer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if CodeOf(err) == CodeUnavailable {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
