package untis

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadCredentials is returned when the school service rejects a login.
	ErrBadCredentials = errors.New("untis: bad credentials")
	// ErrNoResult signals that the service had nothing to return for a query.
	ErrNoResult = errors.New("untis: no result")
	// ErrUnsupported signals that the service does not offer a method.
	ErrUnsupported = errors.New("untis: method not supported")
)

// Codes reported by the JSON-RPC endpoint.
const (
	codeBadCredentials = -8504
	codeNoResult       = -7004
	codeMethodNotFound = -32601
)

// RPCError is an error object returned by the JSON-RPC endpoint.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("untis: %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// Unwrap maps well-known codes to the package sentinels.
func (e *RPCError) Unwrap() error {
	switch {
	case e.Code == codeBadCredentials || strings.Contains(strings.ToLower(e.Message), "bad credentials"):
		return ErrBadCredentials
	case e.Code == codeNoResult || strings.Contains(strings.ToLower(e.Message), "no result"):
		return ErrNoResult
	case e.Code == codeMethodNotFound:
		return ErrUnsupported
	}
	return nil
}

// StatusError is returned for unexpected HTTP responses.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("untis: %s status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Unwrap maps a 404 from the REST endpoints to ErrUnsupported.
func (e *StatusError) Unwrap() error {
	if e.Status == 404 {
		return ErrUnsupported
	}
	return nil
}

// transient marks failures worth another attempt.
func transient(status int) bool {
	return status == 429 || status >= 500
}
