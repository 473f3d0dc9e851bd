package syncengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies failures the caller can act on.
type Kind int

const (
	KindUnknown Kind = iota
	Unauthenticated
	Forbidden
	NotFound
	ValidationFailed
	Conflict
	RateLimited
	TransportFailure
	Internal
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not found"
	case ValidationFailed:
		return "validation failed"
	case Conflict:
		return "conflict"
	case RateLimited:
		return "rate limited"
	case TransportFailure:
		return "transport failure"
	case Internal:
		return "internal"
	}
	return "unknown"
}

// FieldError is one entry of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// APIError is returned for every failed REST call. Status is zero when the
// request never got a response.
type APIError struct {
	Status  int
	Message string
	Fields  []FieldError
	Err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", TransportFailure, e.Err)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		return fmt.Sprintf("%d %s: %s", e.Status, e.Kind(), strings.Join(parts, "; "))
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Kind(), e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Kind() Kind {
	switch {
	case e.Status == 0:
		return TransportFailure
	case e.Status == http.StatusUnauthorized:
		return Unauthenticated
	case e.Status == http.StatusForbidden:
		return Forbidden
	case e.Status == http.StatusNotFound:
		return NotFound
	case e.Status == http.StatusBadRequest, e.Status == http.StatusUnprocessableEntity:
		return ValidationFailed
	case e.Status == http.StatusConflict:
		return Conflict
	case e.Status == http.StatusTooManyRequests:
		return RateLimited
	case e.Status >= 500:
		return Internal
	}
	return KindUnknown
}

// KindOf returns the Kind of err, or KindUnknown if it is not an *APIError.
func KindOf(err error) Kind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind()
	}
	return KindUnknown
}

// decodeError reads the {"error": ...} envelope, where the value is either
// a message or a list of field errors.
func decodeError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Message: http.StatusText(status)}
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return e
	}
	var msg string
	if err := json.Unmarshal(env.Error, &msg); err == nil {
		e.Message = msg
		return e
	}
	var fields []FieldError
	if err := json.Unmarshal(env.Error, &fields); err == nil {
		e.Fields = fields
	}
	return e
}
