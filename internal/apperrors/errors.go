package apperrors

import (
	"errors"
)

// Error kinds
// Every domain error below wraps exactly one of them, so callers may check the kind with errors.Is
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUpstream        = errors.New("upstream failure")
	ErrInternal        = errors.New("internal fault")
)

var (
	ErrUserAlreadyExists  = newError(ErrConflict, "user already exists")
	ErrUserNotFound       = newError(ErrNotFound, "user not found")
	ErrInvalidCredentials = newError(ErrUnauthorized, "invalid credentials")
	ErrBootstrapClosed    = newError(ErrUnauthorized, "bootstrap is closed, authentication required")
	ErrRoleInvalid        = newError(ErrInvalidArgument, "role is invalid")

	ErrRefreshTokenNotFound = newError(ErrUnauthorized, "refresh token not found")
	ErrRefreshTokenExpired  = newError(ErrUnauthorized, "refresh token is expired")
	ErrAccessTokenMissing   = newError(ErrUnauthorized, "access token is missing")
	ErrAccessTokenInvalid   = newError(ErrUnauthorized, "access token is invalid")
	ErrRoleNotAllowed       = newError(ErrForbidden, "role is not allowed")

	ErrWeatherQueryInvalid = newError(ErrInvalidArgument, "weather query is invalid")
	ErrWeatherUpstream     = newError(ErrUpstream, "weather provider failed")
)

// Codes are stable and rendered to clients as is
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeUpstream        = "upstream_failure"
	CodeInternal        = "internal_fault"
)

var kinds = []struct {
	kind error
	code string
}{
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrForbidden, CodeForbidden},
	{ErrNotFound, CodeNotFound},
	{ErrConflict, CodeConflict},
	{ErrUpstream, CodeUpstream},
	{ErrInternal, CodeInternal},
}

type appError struct {
	kind error
	msg  string
}

func newError(kind error, msg string) error {
	return &appError{kind: kind, msg: msg}
}

func (e *appError) Error() string { return e.msg }
func (e *appError) Unwrap() error { return e.kind }

// Kind returns the kind the error belongs to
// Errors without a known kind are internal faults
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.kind
		}
	}
	return ErrInternal
}

// Code returns stable code of the error kind
func Code(err error) string {
	kind := Kind(err)
	for _, k := range kinds {
		if k.kind == kind {
			return k.code
		}
	}
	return CodeInternal
}

// Message returns message of the domain error wrapped by err
// Details added by wrapping layers are dropped, they are not meant for clients
func Message(err error) string {
	var appErr *appError
	if errors.As(err, &appErr) {
		return appErr.msg
	}
	return Kind(err).Error()
}
