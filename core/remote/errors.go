package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidRequest marks caller misuse, such as an empty history. It is
// never retried.
var ErrInvalidRequest = errors.New("invalid request")

// RequestError is implemented by every failure of a remote call that got past
// request validation: [TransportError], [BackendError] and [DecodeError].
type RequestError interface {
	error
	requestError()
}

// TransportError means no response was obtained.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: error sending request: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
func (*TransportError) requestError()   {}

// BackendError is a response with a non-success status. Body holds the raw
// response body as diagnostic text.
type BackendError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: API error: %d %s - %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func (*BackendError) requestError() {}

// DecodeError means the response body could not be interpreted.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: error decoding response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
func (*DecodeError) requestError()   {}

// IsRequestError reports whether err is (or wraps) a remote call failure.
func IsRequestError(err error) bool {
	var requestErr RequestError
	return errors.As(err, &requestErr)
}

// StatusCode returns the backend status code carried by err, if any.
func StatusCode(err error) (int, bool) {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.StatusCode, true
	}
	return 0, false
}
