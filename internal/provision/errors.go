package provision

import (
	"fmt"
	"net/http"
)

// Kind classifies a provisioning failure
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindCapacityExhausted
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindCapacityExhausted:
		return "capacity_exhausted"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to the status the endpoint responds with
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindCapacityExhausted:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a provisioning failure. Message is safe to show to end users; Err carries the
// underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidRequest(err error) *Error {
	return &Error{Kind: KindInvalidRequest, Message: "Invalid launch request: " + err.Error(), Err: err}
}
