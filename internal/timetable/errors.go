package timetable

import (
	"fmt"
	"net/http"
)

// Kind classifies failures that reach the caller.
type Kind string

const (
	KindAuthenticationFailed       Kind = "AUTHENTICATION_FAILED"
	KindCredentialDecryptionFailed Kind = "CREDENTIAL_DECRYPTION_FAILED"
	KindUpstreamUnavailable        Kind = "UPSTREAM_UNAVAILABLE"
	KindUpstreamFetchFailed        Kind = "UPSTREAM_FETCH_FAILED"
	KindForbidden                  Kind = "FORBIDDEN"
	KindCredentialsMissing         Kind = "CREDENTIALS_MISSING"
)

var kindStatus = map[Kind]int{
	KindAuthenticationFailed:       http.StatusUnauthorized,
	KindCredentialDecryptionFailed: http.StatusInternalServerError,
	KindUpstreamUnavailable:        http.StatusBadGateway,
	KindUpstreamFetchFailed:        http.StatusBadGateway,
	KindForbidden:                  http.StatusForbidden,
	KindCredentialsMissing:         http.StatusNotFound,
}

var kindMessage = map[Kind]string{
	KindAuthenticationFailed:       "the school service rejected the stored credentials",
	KindCredentialDecryptionFailed: "stored credentials could not be decrypted",
	KindUpstreamUnavailable:        "the school service is unavailable",
	KindUpstreamFetchFailed:        "the timetable could not be fetched",
	KindForbidden:                  "not allowed to view this timetable",
	KindCredentialsMissing:         "no school credentials are stored for this user",
}

// Error is a failure carrying an HTTP status and a machine-readable code.
type Error struct {
	Kind   Kind
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", kindMessage[e.Kind], e.Err)
	}
	return kindMessage[e.Kind]
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Message is the caller-facing description of the failure.
func (e *Error) Message() string { return kindMessage[e.Kind] }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Status: kindStatus[kind], Code: string(kind), Err: err}
}

// Sentinels for errors.Is.
var (
	ErrAuthenticationFailed       = newError(KindAuthenticationFailed, nil)
	ErrCredentialDecryptionFailed = newError(KindCredentialDecryptionFailed, nil)
	ErrUpstreamUnavailable        = newError(KindUpstreamUnavailable, nil)
	ErrUpstreamFetchFailed        = newError(KindUpstreamFetchFailed, nil)
	ErrForbidden                  = newError(KindForbidden, nil)
	ErrCredentialsMissing         = newError(KindCredentialsMissing, nil)
)
