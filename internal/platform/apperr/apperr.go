// Package apperr defines the error kinds surfaced by the domain services.
// Every kind carries a stable machine-readable code (the kind name) and a
// human message; validation errors additionally carry field-level detail.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error. The string value doubles as the wire code.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindUnauthorized       Kind = "unauthorized"
	KindDuplicateEmail     Kind = "duplicate_email"
	KindSlotTaken          Kind = "slot_taken"
	KindInvalidTransition  Kind = "invalid_transition"
	KindPastDate           Kind = "past_date"
	KindParse              Kind = "parse_error"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindScanQuotaExceeded  Kind = "scan_quota_exceeded"
)

// Error is the single structured error type returned by services.
type Error struct {
	Kind    Kind              `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Cause   error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err (or anything it wraps) is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code used by the REST layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindDuplicateEmail, KindSlotTaken, KindInvalidTransition:
		return http.StatusConflict
	case KindPastDate, KindParse:
		return http.StatusUnprocessableEntity
	case KindScanQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// Field is shorthand for a validation error on a single field.
func Field(field, problem string) *Error {
	return Validation(fmt.Sprintf("%s %s", field, problem), map[string]string{field: problem})
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func Forbidden(reason string) *Error {
	if reason == "" {
		reason = "operation not permitted"
	}
	return &Error{Kind: KindForbidden, Message: reason}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func DuplicateEmail(email string) *Error {
	return &Error{
		Kind:    KindDuplicateEmail,
		Message: "email is already registered",
		Fields:  map[string]string{"email": email},
	}
}

func SlotTaken() *Error {
	return &Error{Kind: KindSlotTaken, Message: "this time slot is already booked"}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot move appointment from %s to %s", from, to),
	}
}

func PastDate(date string) *Error {
	return &Error{
		Kind:    KindPastDate,
		Message: "appointment date must be today or later",
		Fields:  map[string]string{"date": date},
	}
}

func Parse(msg string) *Error {
	return &Error{Kind: KindParse, Message: msg}
}

func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}
}

func ScanQuotaExceeded(limit int) *Error {
	return &Error{
		Kind:    KindScanQuotaExceeded,
		Message: fmt.Sprintf("record has reached its limit of %d scans today", limit),
	}
}
