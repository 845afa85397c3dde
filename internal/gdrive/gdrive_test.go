package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"

	"github.com/tonimelisma/savesync/internal/cloud"
)

type fakeDrive struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()

	fd := &fakeDrive{routes: make(map[string]http.HandlerFunc)}
	fd.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

			n := fd.tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3599}`, n)

			return
		}

		fd.mu.Lock()
		h := fd.routes[r.Method+" "+r.URL.Path]
		fd.mu.Unlock()

		if h == nil {
			http.Error(w, `{"error":{"code":404}}`, http.StatusNotFound)
			return
		}

		h(w, r)
	}))
	t.Cleanup(fd.srv.Close)

	return fd
}

func (fd *fakeDrive) handle(method, path string, h http.HandlerFunc) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.routes[method+" "+path] = h
}

func (fd *fakeDrive) provider(t *testing.T) *Provider {
	t.Helper()

	return New(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt",
		BaseURL:      fd.srv.URL,
		TokenURL:     fd.srv.URL + "/token",
		HTTPClient:   fd.srv.Client(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestToItem(t *testing.T) {
	folder := toItem(driveFile("d", "save_games", folderMimeType, ""), fixedTime)
	require.NotNil(t, folder)
	assert.True(t, folder.IsFolder())

	file := toItem(driveFile("f", "a.srm", "application/octet-stream", "abc123"), fixedTime)
	require.NotNil(t, file)
	assert.Equal(t, cloud.HashMD5, file.File.HashType)
	assert.Equal(t, "abc123", file.File.HashValue)

	noHash := toItem(driveFile("g", "b.srm", "text/plain", ""), fixedTime)
	require.NotNil(t, noHash)
	assert.Equal(t, cloud.HashNone, noHash.File.HashType)

	assert.Nil(t, toItem(driveFile("", "x", "", ""), fixedTime))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"plain"`, quote("plain"))
	assert.Equal(t, `"say \"hi\" \\ bye"`, quote(`say "hi" \ bye`))
}

func TestListFiles_UsesPageToken(t *testing.T) {
	fd := newFakeDrive(t)

	var calls atomic.Int32

	fd.handle(http.MethodGet, "/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, `"dir-1" in parents`, q.Get("q"))
		assert.Equal(t, "appDataFolder", q.Get("spaces"))
		assert.Contains(t, q.Get("fields"), "nextPageToken")
		assert.Empty(t, q.Get("nextPageToken"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		switch calls.Add(1) {
		case 1:
			assert.Empty(t, q.Get("pageToken"))
			writeJSON(w, http.StatusOK, `{"nextPageToken":"P2","files":[
				{"id":"a","name":"a.srm","mimeType":"application/octet-stream","md5Checksum":"m1"},
				{"id":"b","name":"sub","mimeType":"application/vnd.google-apps.folder"}
			]}`)
		default:
			assert.Equal(t, "P2", q.Get("pageToken"))
			writeJSON(w, http.StatusOK, `{"files":[{"id":"c","name":"c.srm","md5Checksum":"m3"}]}`)
		}
	})

	dir := cloud.NewFolder("dir-1", "save_games")
	require.NoError(t, fd.provider(t).ListFiles(context.Background(), dir))

	children := dir.Children()
	require.Len(t, children, 3)
	assert.Equal(t, "a.srm", children[0].Name)
	assert.True(t, children[1].IsFolder())
	assert.Equal(t, "m3", children[2].File.HashValue)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetFolderMetadata(t *testing.T) {
	fd := newFakeDrive(t)

	fd.handle(http.MethodGet, "/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == `name="save_games" and mimeType="application/vnd.google-apps.folder" and "appDataFolder" in parents` {
			writeJSON(w, http.StatusOK, `{"files":[
				{"id":"dir-1","name":"save_games","mimeType":"application/vnd.google-apps.folder"},
				{"id":"dir-2","name":"save_games","mimeType":"application/vnd.google-apps.folder"}
			]}`)

			return
		}

		writeJSON(w, http.StatusOK, `{"files":[]}`)
	})

	p := fd.provider(t)
	ctx := context.Background()

	dir, err := p.GetFolderMetadata(ctx, "save_games")
	require.NoError(t, err)
	assert.Equal(t, "dir-1", dir.ID, "first match wins")

	_, err = p.GetFolderMetadata(ctx, "screenshots")
	assert.True(t, cloud.IsNotFound(err))
}

func TestGetFileMetadata_MatchesListing(t *testing.T) {
	fd := newFakeDrive(t)

	const fileJSON = `{"id":"f-1","name":"zelda.srm","mimeType":"application/octet-stream","md5Checksum":"d41d8cd9"}`

	fd.handle(http.MethodGet, "/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		assert.True(t, q == `"dir-1" in parents` || q == `name="zelda.srm" and "dir-1" in parents`, q)
		writeJSON(w, http.StatusOK, `{"files":[`+fileJSON+`]}`)
	})
	fd.handle(http.MethodGet, "/drive/v3/files/f-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, itemFields, r.URL.Query().Get("fields"))
		writeJSON(w, http.StatusOK, fileJSON)
	})

	p := fd.provider(t)
	ctx := context.Background()
	dir := cloud.NewFolder("dir-1", "save_games")

	require.NoError(t, p.ListFiles(ctx, dir))
	listed := dir.Child("zelda.srm")
	require.NotNil(t, listed)

	fresh, err := p.GetFileMetadata(ctx, listed)
	require.NoError(t, err)
	assert.Equal(t, listed.ID, fresh.ID)
	assert.Equal(t, listed.File.HashType, fresh.File.HashType)
	assert.Equal(t, listed.File.HashValue, fresh.File.HashValue)

	byName, err := p.GetFileMetadataByName(ctx, dir, "zelda.srm")
	require.NoError(t, err)
	assert.Equal(t, "f-1", byName.ID)
}

func TestCreateFolder(t *testing.T) {
	fd := newFakeDrive(t)

	fd.handle(http.MethodPost, "/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name     string   `json:"name"`
			MimeType string   `json:"mimeType"`
			Parents  []string `json:"parents"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "runtime_logs", body.Name)
		assert.Equal(t, folderMimeType, body.MimeType)
		assert.Equal(t, []string{"appDataFolder"}, body.Parents)

		writeJSON(w, http.StatusOK, `{"id":"new","name":"runtime_logs","mimeType":"application/vnd.google-apps.folder"}`)
	})

	dir, err := fd.provider(t).CreateFolder(context.Background(), "runtime_logs")
	require.NoError(t, err)
	assert.Equal(t, "new", dir.ID)
	assert.True(t, dir.IsFolder())
}

func TestDeleteFile_AcceptsOKAndNoContent(t *testing.T) {
	fd := newFakeDrive(t)

	fd.handle(http.MethodDelete, "/drive/v3/files/a", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	fd.handle(http.MethodDelete, "/drive/v3/files/b", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	p := fd.provider(t)
	ctx := context.Background()

	require.NoError(t, p.DeleteFile(ctx, cloud.NewFile("a", "a.srm", cloud.FileData{})))
	require.NoError(t, p.DeleteFile(ctx, cloud.NewFile("b", "b.srm", cloud.FileData{})))
	assert.True(t, cloud.IsNotFound(p.DeleteFile(ctx, cloud.NewFile("c", "c.srm", cloud.FileData{}))))
}

func TestDeleteFile_RefreshesOnUnauthorized(t *testing.T) {
	fd := newFakeDrive(t)

	var calls atomic.Int32

	fd.handle(http.MethodDelete, "/drive/v3/files/a", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, fd.provider(t).DeleteFile(context.Background(), cloud.NewFile("a", "a.srm", cloud.FileData{})))
	assert.Equal(t, int32(2), fd.tokenCalls.Load())
}

func TestDownloadFile(t *testing.T) {
	fd := newFakeDrive(t)

	fd.handle(http.MethodGet, "/drive/v3/files/f-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		fmt.Fprint(w, "state bytes")
	})

	dest := filepath.Join(t.TempDir(), "slot1.state")
	file := cloud.NewFile("f-1", "slot1.state", cloud.FileData{})

	require.NoError(t, fd.provider(t).DownloadFile(context.Background(), file, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "state bytes", string(data))
}

func TestUploadFile_NewFileInChunks(t *testing.T) {
	fd := newFakeDrive(t)

	var (
		mu       sync.Mutex
		received []byte
		ranges   []string
	)

	fd.handle(http.MethodPost, "/upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "10", r.Header.Get("X-Upload-Content-Length"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("X-Upload-Content-Type"))

		var meta struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
		assert.Equal(t, "luigi.srm", meta.Name)
		assert.Equal(t, []string{"dir-1"}, meta.Parents)

		w.Header().Set("Location", fd.srv.URL+"/session/xyz")
		w.WriteHeader(http.StatusOK)
	})
	fd.handle(http.MethodPut, "/session/xyz", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		mu.Lock()
		received = append(received, body...)
		ranges = append(ranges, r.Header.Get("Content-Range"))
		done := len(received) == 10
		mu.Unlock()

		if !done {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(received)-1))
			w.WriteHeader(http.StatusPermanentRedirect)

			return
		}

		writeJSON(w, http.StatusOK, `{"id":"up-1","name":"luigi.srm","md5Checksum":"feed"}`)
	})

	local := filepath.Join(t.TempDir(), "luigi.srm")
	require.NoError(t, os.WriteFile(local, []byte("0123456789"), 0o600))

	p := fd.provider(t)
	p.chunkSize = 4

	file := &cloud.Item{Name: "luigi.srm", Kind: cloud.KindFile}
	require.NoError(t, p.UploadFile(context.Background(), cloud.NewFolder("dir-1", "save_games"), file, local))

	assert.Equal(t, "up-1", file.ID)
	assert.Equal(t, cloud.HashMD5, file.File.HashType)
	assert.Equal(t, "feed", file.File.HashValue)
	assert.Equal(t, "0123456789", string(received))
	assert.Equal(t, []string{"bytes 0-3/10", "bytes 4-7/10", "bytes 8-9/10"}, ranges)
}

func TestUploadFile_ExistingFileUsesPatch(t *testing.T) {
	fd := newFakeDrive(t)

	fd.handle(http.MethodPatch, "/upload/drive/v3/files/f-1", func(w http.ResponseWriter, r *http.Request) {
		var meta map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
		assert.NotContains(t, meta, "parents")

		w.Header().Set("Location", fd.srv.URL+"/session/patch")
		w.WriteHeader(http.StatusOK)
	})
	fd.handle(http.MethodPut, "/session/patch", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"f-1","name":"zelda.srm","md5Checksum":"new"}`)
	})

	local := filepath.Join(t.TempDir(), "zelda.srm")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))

	file := cloud.NewFile("f-1", "zelda.srm", cloud.FileData{HashType: cloud.HashMD5, HashValue: "old"})
	require.NoError(t, fd.provider(t).UploadFile(context.Background(), cloud.NewFolder("dir-1", "save_games"), file, local))
	assert.Equal(t, "new", file.File.HashValue)
}

func TestUploadFile_MissingLocation(t *testing.T) {
	fd := newFakeDrive(t)

	fd.handle(http.MethodPost, "/upload/drive/v3/files", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	local := filepath.Join(t.TempDir(), "a.srm")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))

	err := fd.provider(t).UploadFile(context.Background(), cloud.NewFolder("d", "save_games"), &cloud.Item{Name: "a.srm"}, local)
	assert.ErrorIs(t, err, ErrNoUploadSession)
}

func TestCapabilities(t *testing.T) {
	p := New(Config{})

	assert.Equal(t, "gdrive", p.Name())
	assert.True(t, p.NeedAuthorization())
	assert.False(t, p.ReadyForRequest())
	assert.Equal(t, cloud.AuthFailed, p.Authorize(context.Background(), nil), "no client id")
}

var fixedTime = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func driveFile(id, name, mime, md5 string) *drive.File {
	return &drive.File{Id: id, Name: name, MimeType: mime, Md5Checksum: md5}
}
