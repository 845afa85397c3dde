// Package graph implements the OneDrive backend over the Microsoft Graph
// app-folder endpoints. Requests run through the rest operation engine and
// are authenticated by an auth.Manager, so a 401 triggers one token refresh
// and resubmission.
package graph

import (
	"errors"

	"github.com/tonimelisma/savesync/internal/cloud"
)

var (
	// ErrNoDownloadURL is returned when a file has no pre-authenticated
	// download URL even after its metadata is re-fetched.
	ErrNoDownloadURL = errors.New("graph: item has no download URL")

	// ErrNotFolder is returned when a name resolves to a file where a folder
	// was expected.
	ErrNotFolder = errors.New("graph: item is not a folder")

	// ErrUploadIncomplete is returned when an upload session ran out of
	// chunks without the server reporting the finished item.
	ErrUploadIncomplete = errors.New("graph: upload session did not complete")
)

// opError wraps err with the operation context. Returns nil for nil err.
func (p *Provider) opError(op, name string, err error) error {
	if err == nil {
		return nil
	}

	return &cloud.OpError{Op: op, Provider: p.Name(), Name: name, Err: err}
}
