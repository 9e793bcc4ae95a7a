// Package envelope models the status/message/data wrapper returned by every
// platform service call and collapses the repeated "not ok or empty payload"
// checks into a single contract.
package envelope

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Envelope is the response wrapper returned by the project and store services.
// Status 0 means the upstream accepted the call.
type Envelope[T any] struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    *T     `json:"data,omitempty"`

	// HTTPStatus is the transport status the envelope arrived with. Zero when
	// the envelope was built in-process.
	HTTPStatus int `json:"-"`
}

// OK reports whether the upstream accepted the call.
func (e Envelope[T]) OK() bool {
	return e.Status == 0 && e.HTTPStatus < http.StatusBadRequest
}

// Error is the structured failure raised when an upstream call is rejected or
// returns an unusable payload.
type Error struct {
	StatusCode int    `json:"statusCode"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`

	// Cause is the transport error the Error was built from, if any.
	Cause error `json:"-"`
}

func (e *Error) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("upstream call failed (http %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream call failed (http %d, code %s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Unwrap exposes Cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// FromEnvelope builds an Error carrying the envelope's status and message. The
// HTTP status defaults to 500 unless the transport reported a specific failure.
func FromEnvelope[T any](env Envelope[T]) *Error {
	code := http.StatusInternalServerError
	if env.HTTPStatus >= http.StatusBadRequest {
		code = env.HTTPStatus
	}
	return &Error{
		StatusCode: code,
		ErrorCode:  strconv.Itoa(env.Status),
		Message:    env.Message,
	}
}

// FromError converts a transport error into an Error. An *Error anywhere in
// the chain is returned as is.
func FromError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return &Error{StatusCode: http.StatusInternalServerError, Message: err.Error(), Cause: err}
}

// Check fails when the call errored or the envelope is not ok. The payload is
// not inspected.
func Check[T any](env Envelope[T], err error) error {
	if err != nil {
		return FromError(err)
	}
	if !env.OK() {
		return FromEnvelope(env)
	}
	return nil
}

// Optional returns the payload of an accepted envelope, which may be nil.
func Optional[T any](env Envelope[T], err error) (*T, error) {
	if err := Check(env, err); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Require returns the payload of an accepted envelope and fails when it is
// missing, a blank string, or false.
func Require[T any](env Envelope[T], err error) (T, error) {
	var zero T
	if err := Check(env, err); err != nil {
		return zero, err
	}
	if env.Data == nil || blank(*env.Data) {
		return zero, FromEnvelope(env)
	}
	return *env.Data, nil
}

func blank(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	}
	return false
}
