// Package rest executes provider REST calls. A Transport performs one HTTP
// exchange; an Operation wraps that exchange in a status-code dispatch table
// whose handlers either resolve the call or resubmit it once after a side
// operation such as a credential refresh.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DefaultUserAgent is sent when the caller configures none.
const DefaultUserAgent = "savesync/0.1"

// downloadDirPerms is used for parent directories of response files.
const downloadDirPerms = 0o755

// FileSection is a byte range of a local file used as a request body.
// Length < 0 means "to end of file".
type FileSection struct {
	Path   string
	Offset int64
	Length int64
}

// Request describes one HTTP exchange. Params are merged into the URL's
// query. At most one of Body and BodyFile is used.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Params   url.Values
	Body     []byte
	BodyFile *FileSection

	// ResponseFile, when set, receives the body of a 2xx response instead
	// of Response.Body. The file is written atomically.
	ResponseFile string
}

// NewRequest returns a Request with an initialized header.
func NewRequest(method, rawURL string) *Request {
	return &Request{Method: method, URL: rawURL, Header: make(http.Header)}
}

// Response is the status, header, and buffered body of one exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes a single request. A nil error means a response
// reached the caller, whatever its status.
type Transport interface {
	Submit(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the net/http Transport.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewHTTPTransport wraps an http.Client. A nil client uses
// http.DefaultClient and an empty userAgent uses DefaultUserAgent.
func NewHTTPTransport(client *http.Client, userAgent string, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPTransport{client: client, userAgent: userAgent, logger: logger}
}

// Client returns the underlying http.Client.
func (t *HTTPTransport) Client() *http.Client {
	return t.client
}

// Submit performs the exchange. Transport-level failures (DNS, TLS, reset
// connections, canceled contexts, unreadable local body files) are returned
// as errors; every HTTP status is returned as a Response.
func (t *HTTPTransport) Submit(ctx context.Context, req *Request) (*Response, error) {
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}

	body, length, closer, err := openBody(req)
	if err != nil {
		return nil, err
	}

	if closer != nil {
		defer closer.Close()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("rest: creating request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpReq.Header.Set("User-Agent", t.userAgent)

	if body != nil {
		httpReq.ContentLength = length
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		// url.Error repeats the full URL, query string included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}

		return nil, fmt.Errorf("rest: %s %s: %w", req.Method, redactQuery(target), err)
	}
	defer resp.Body.Close()

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header}

	if req.ResponseFile != "" && resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if err := WriteFileAtomic(req.ResponseFile, resp.Body); err != nil {
			return nil, err
		}

		t.logger.Debug("response written to file",
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.String("path", req.ResponseFile),
		)

		return out, nil
	}

	out.Body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: reading response body: %w", err)
	}

	return out, nil
}

func buildURL(raw string, params url.Values) (string, error) {
	if len(params) == 0 {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("rest: parsing url: %w", err)
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

func openBody(req *Request) (io.Reader, int64, io.Closer, error) {
	if req.BodyFile != nil {
		f, err := os.Open(req.BodyFile.Path)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("rest: opening body file: %w", err)
		}

		length := req.BodyFile.Length
		if length < 0 {
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, 0, nil, fmt.Errorf("rest: stat body file: %w", err)
			}

			length = info.Size() - req.BodyFile.Offset
		}

		return io.NewSectionReader(f, req.BodyFile.Offset, length), length, f, nil
	}

	if req.Body != nil {
		return bytes.NewReader(req.Body), int64(len(req.Body)), nil, nil
	}

	return nil, 0, nil, nil
}

// WriteFileAtomic streams body into a temp file next to path and renames
// it into place, so a failed download never leaves a truncated file.
func WriteFileAtomic(path string, body io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, downloadDirPerms); err != nil {
		return fmt.Errorf("rest: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*.partial")
	if err != nil {
		return fmt.Errorf("rest: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("rest: writing response body: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("rest: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rest: renaming download: %w", err)
	}

	success = true

	return nil
}

// redactQuery drops the query string, which may carry pre-authenticated
// download signatures.
func redactQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}

	return raw
}
