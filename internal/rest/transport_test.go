package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_MergesParamsAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "a", r.URL.Query().Get("existing"))
		assert.Equal(t, "appDataFolder", r.URL.Query().Get("spaces"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "hello", string(body))

		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client(), "test-agent", nil)

	req := NewRequest(http.MethodPost, srv.URL+"/files?existing=a")
	req.Params = url.Values{"spaces": {"appDataFolder"}}
	req.Header.Set("Authorization", "Bearer tok")
	req.Body = []byte("hello")

	resp, err := tr.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Reply"))
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestSubmit_FileSectionBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "3456", string(body))
		assert.Equal(t, int64(4), r.ContentLength)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client(), "", nil)
	req := NewRequest(http.MethodPut, srv.URL)
	req.BodyFile = &FileSection{Path: path, Offset: 3, Length: 4}

	resp, err := tr.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSubmit_ResponseFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "nope")

			return
		}

		fmt.Fprint(w, "save data")
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client(), "", nil)
	dest := filepath.Join(t.TempDir(), "nested", "game.srm")

	req := NewRequest(http.MethodGet, srv.URL+"/ok")
	req.ResponseFile = dest

	resp, err := tr.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Body)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "save data", string(data))

	// Error bodies are buffered, never written to the destination.
	other := filepath.Join(t.TempDir(), "other.srm")
	req = NewRequest(http.MethodGet, srv.URL+"/missing")
	req.ResponseFile = other

	resp, err = tr.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "nope", string(resp.Body))
	assert.NoFileExists(t, other)
}

func TestSubmit_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	tr := NewHTTPTransport(nil, "", nil)

	_, err := tr.Submit(context.Background(), NewRequest(http.MethodGet, addr+"/x?sig=secret"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestSubmit_MissingBodyFile(t *testing.T) {
	tr := NewHTTPTransport(nil, "", nil)
	req := NewRequest(http.MethodPut, "http://127.0.0.1:1")
	req.BodyFile = &FileSection{Path: filepath.Join(t.TempDir(), "absent"), Length: -1}

	_, err := tr.Submit(context.Background(), req)
	assert.Error(t, err)
}
