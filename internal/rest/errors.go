package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/savesync/internal/cloud"
)

// Status sentinels not shared with the cloud package.
var (
	ErrBadRequest  = errors.New("rest: bad request")
	ErrForbidden   = errors.New("rest: forbidden")
	ErrConflict    = errors.New("rest: conflict")
	ErrThrottled   = errors.New("rest: throttled")
	ErrServerError = errors.New("rest: server error")

	// ErrHandlerStalled means a handler returned without finishing the
	// operation or asking for resubmission.
	ErrHandlerStalled = errors.New("rest: handler neither finished nor resubmitted")
)

// maxMessageBytes bounds how much of an error body is kept.
const maxMessageBytes = 512

// HTTPError is a non-success response. It matches cloud.ErrHTTPStatus and
// the sentinel for its status class.
type HTTPError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rest: HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("rest: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() []error {
	if e.Err == nil {
		return []error{cloud.ErrHTTPStatus}
	}

	return []error{e.Err, cloud.ErrHTTPStatus}
}

// StatusError builds the HTTPError for resp.
func StatusError(resp *Response) error {
	msg := string(resp.Body)
	if len(msg) > maxMessageBytes {
		msg = msg[:maxMessageBytes]
	}

	return &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Err:        classifyStatus(resp.StatusCode),
	}
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return cloud.ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return cloud.ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// DecodeJSON unmarshals a response body, reporting shape errors as
// cloud.ErrParse.
func DecodeJSON(resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("%w: %w", cloud.ErrParse, err)
	}

	return nil
}
