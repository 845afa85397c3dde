// Package cloud defines the backend-agnostic model shared by every storage
// provider: the in-memory item tree, the Provider capability set, the
// paging loop that assembles listings into a folder, and the error
// taxonomy that crosses the provider boundary.
package cloud

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
// Use errors.Is(err, cloud.ErrNotFound) to check.
var (
	// ErrTransport means no response reached the engine. Never retried here.
	ErrTransport = errors.New("cloud: transport failure")

	// ErrHTTPStatus is matched by every non-2xx response that was not
	// handled as success by the operation.
	ErrHTTPStatus = errors.New("cloud: unexpected http status")

	ErrUnauthorized = errors.New("cloud: unauthorized")
	ErrNotFound     = errors.New("cloud: not found")

	// ErrParse means the response body had an unexpected shape.
	ErrParse = errors.New("cloud: malformed response")

	// ErrAuth means a credential refresh was denied or returned no token.
	ErrAuth = errors.New("cloud: authentication failed")

	// ErrInvalidTree is returned when an append would break the tree
	// invariants (item in two sibling lists, or a cycle).
	ErrInvalidTree = errors.New("cloud: invalid tree operation")

	// ErrNotReady means the provider has no credentials to issue requests.
	ErrNotReady = errors.New("cloud: provider not ready")
)

// OpError wraps a sentinel with the provider and operation that failed.
type OpError struct {
	Op       string
	Provider string
	Name     string // item name or id, if applicable
	Err      error
}

func (e *OpError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, e.Name, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the remote item does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized reports whether err is an authorization failure, either a
// rejected request or a failed credential refresh.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrAuth)
}

// IsTransport reports whether err means no response was received.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
