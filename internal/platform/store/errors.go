package store

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("row not found")
	ErrForeignKey   = errors.New("foreign key violation")
	ErrConflict     = errors.New("conflicting row")
	ErrInvalid      = errors.New("invalid value")
	ErrUnauthorized = errors.New("not authorized")
	ErrUnavailable  = errors.New("store unavailable")
)

// Error is a failure reported by the store. Message carries the reason the
// store gave, which is surfaced to the user as-is.
type Error struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
	Kind    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code %s)", msg, e.Code)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// Unwrap exposes the sentinel kind so errors.Is(err, ErrForeignKey) works.
func (e *Error) Unwrap() error { return e.Kind }

// KindForCode maps Postgres SQLSTATE and PostgREST codes onto sentinels.
func KindForCode(code string) error {
	switch code {
	case "23503":
		return ErrForeignKey
	case "23505":
		return ErrConflict
	case "23502", "23514", "22P02", "22007", "22008", "PGRST204":
		return ErrInvalid
	case "42501", "PGRST301", "PGRST302":
		return ErrUnauthorized
	case "PGRST116":
		return ErrNotFound
	}
	return nil
}

// KindForStatus maps an HTTP status onto a sentinel when the body carried no code.
func KindForStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrInvalid
	case status >= 500:
		return ErrUnavailable
	}
	return nil
}

// Reason returns the user-facing reason for err, preferring the store message.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}
