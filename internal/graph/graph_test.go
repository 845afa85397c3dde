package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/savesync/internal/cloud"
)

// fakeGraph serves the token endpoint plus whatever routes a test installs.
type fakeGraph struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32

	mu     sync.Mutex
	routes map[string]http.HandlerFunc // "METHOD path"
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	fg := &fakeGraph{routes: make(map[string]http.HandlerFunc)}
	fg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			n := fg.tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)

			return
		}

		fg.mu.Lock()
		h := fg.routes[r.Method+" "+r.URL.Path]
		fg.mu.Unlock()

		if h == nil {
			http.Error(w, `{"error":{"code":"itemNotFound"}}`, http.StatusNotFound)
			return
		}

		h(w, r)
	}))
	t.Cleanup(fg.srv.Close)

	return fg
}

func (fg *fakeGraph) handle(method, path string, h http.HandlerFunc) {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	fg.routes[method+" "+path] = h
}

func (fg *fakeGraph) provider(t *testing.T) *Provider {
	t.Helper()

	return New(Config{
		ClientID:     "client-123",
		RefreshToken: "refresh-xyz",
		BaseURL:      fg.srv.URL,
		TokenURL:     fg.srv.URL + "/token",
		HTTPClient:   fg.srv.Client(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

const saveFileJSON = `{
	"id": "file-1",
	"name": "zelda.srm",
	"size": 8192,
	"file": {"hashes": {"sha1Hash": "DA39A3EE", "quickXorHash": "qx=="}},
	"@microsoft.graph.downloadUrl": "%s"
}`

func TestToItem_HashPreference(t *testing.T) {
	tests := []struct {
		name     string
		hashes   *hashFacet
		wantType cloud.HashType
		wantVal  string
	}{
		{"sha256 wins", &hashFacet{SHA256Hash: "s256", SHA1Hash: "s1", QuickXorHash: "qx"}, cloud.HashSHA256, "s256"},
		{"sha1 next", &hashFacet{SHA1Hash: "s1", QuickXorHash: "qx"}, cloud.HashSHA1, "s1"},
		{"quickxor last", &hashFacet{QuickXorHash: "qx"}, cloud.HashQuickXor, "qx"},
		{"no hashes", nil, cloud.HashNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := driveItemResponse{ID: "i", Name: "n", File: &fileFacet{Hashes: tt.hashes}}
			item := d.toItem(time.Now())
			require.NotNil(t, item)
			assert.Equal(t, cloud.KindFile, item.Kind)
			assert.Equal(t, tt.wantType, item.File.HashType)
			assert.Equal(t, tt.wantVal, item.File.HashValue)
		})
	}
}

func TestToItem_Discriminator(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	folder := (&driveItemResponse{ID: "f", Name: "save_games", Folder: &folderFacet{}}).toItem(now)
	require.NotNil(t, folder)
	assert.True(t, folder.IsFolder())
	assert.Equal(t, now, folder.LastSyncTime)

	assert.Nil(t, (&driveItemResponse{ID: "x", Name: "odd"}).toItem(now))
	assert.Nil(t, (&driveItemResponse{Name: "no-id", File: &fileFacet{}}).toItem(now))
}

func TestListFiles_FollowsNextLink(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodGet, "/me/drive/items/dir-1/children", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		if r.URL.Query().Get("page") == "2" {
			assert.Empty(t, r.URL.Query().Get("$top"))
			writeJSON(w, http.StatusOK, `{"value":[
				{"id":"c","name":"c.srm","file":{"hashes":{"sha1Hash":"CC"}}},
				{"id":"weird","name":"notebook"}
			]}`)

			return
		}

		assert.Equal(t, "200", r.URL.Query().Get("$top"))
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"value":[
			{"id":"a","name":"a.srm","file":{"hashes":{"sha1Hash":"AA"}}},
			{"id":"b","name":"sub","folder":{"childCount":0}}
		],"@odata.nextLink":"%s/me/drive/items/dir-1/children?page=2"}`, fg.srv.URL))
	})

	p := fg.provider(t)
	dir := cloud.NewFolder("dir-1", "save_games")

	require.NoError(t, p.ListFiles(context.Background(), dir))

	children := dir.Children()
	require.Len(t, children, 3)
	assert.Equal(t, "a.srm", children[0].Name)
	assert.True(t, children[1].IsFolder())
	assert.Equal(t, "c.srm", children[2].Name)
	assert.Equal(t, int32(1), fg.tokenCalls.Load())
}

func TestListFiles_UnauthorizedMidPaginationResumes(t *testing.T) {
	fg := newFakeGraph(t)

	var page2Calls atomic.Int32

	fg.handle(http.MethodGet, "/me/drive/items/dir-1/children", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			if page2Calls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, `{"value":[{"id":"b","name":"b.srm","file":{}}]}`)

			return
		}

		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"value":[{"id":"a","name":"a.srm","file":{}}],
			"@odata.nextLink":"%s/me/drive/items/dir-1/children?page=2"}`, fg.srv.URL))
	})

	p := fg.provider(t)
	dir := cloud.NewFolder("dir-1", "save_games")

	require.NoError(t, p.ListFiles(context.Background(), dir))
	assert.Equal(t, 2, dir.Len())
	assert.Equal(t, int32(2), page2Calls.Load())
	assert.Equal(t, int32(2), fg.tokenCalls.Load())
}

func TestListFiles_FailureKeepsEarlierPages(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodGet, "/me/drive/items/dir-1/children", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"value":[{"id":"a","name":"a.srm","file":{}}],
			"@odata.nextLink":"%s/me/drive/items/dir-1/children?page=2"}`, fg.srv.URL))
	})

	p := fg.provider(t)
	dir := cloud.NewFolder("dir-1", "save_games")

	err := p.ListFiles(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, cloud.ErrHTTPStatus)

	var opErr *cloud.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "ListFiles", opErr.Op)
	assert.Equal(t, 1, dir.Len())
}

func TestGetFolderMetadata(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodGet, "/me/drive/special/approot:/save_games:", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"dir-1","name":"save_games","folder":{"childCount":3}}`)
	})
	fg.handle(http.MethodGet, "/me/drive/special/approot:/screenshots:", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"f","name":"screenshots","file":{}}`)
	})

	p := fg.provider(t)
	ctx := context.Background()

	dir, err := p.GetFolderMetadata(ctx, "save_games")
	require.NoError(t, err)
	assert.Equal(t, "dir-1", dir.ID)
	assert.True(t, dir.IsFolder())

	_, err = p.GetFolderMetadata(ctx, "save_states")
	assert.True(t, cloud.IsNotFound(err))

	_, err = p.GetFolderMetadata(ctx, "screenshots")
	assert.ErrorIs(t, err, ErrNotFolder)
}

func TestGetFileMetadata_MatchesListing(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodGet, "/me/drive/items/dir-1/children", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"value":[`+fmt.Sprintf(saveFileJSON, "https://dl/1")+`]}`)
	})
	fg.handle(http.MethodGet, "/me/drive/items/file-1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, fmt.Sprintf(saveFileJSON, "https://dl/2"))
	})
	fg.handle(http.MethodGet, "/me/drive/special/approot:/save_games/zelda.srm:", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, fmt.Sprintf(saveFileJSON, "https://dl/3"))
	})

	p := fg.provider(t)
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
	assert.Equal(t, cloud.HashSHA1, fresh.File.HashType)

	byName, err := p.GetFileMetadataByName(ctx, dir, "zelda.srm")
	require.NoError(t, err)
	assert.Equal(t, "file-1", byName.ID)
}

func TestCreateFolder(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodPost, "/me/drive/special/approot/children", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "save_states", body["name"])
		assert.Equal(t, "fail", body["@microsoft.graph.conflictBehavior"])
		assert.Contains(t, body, "folder")

		writeJSON(w, http.StatusCreated, `{"id":"new-dir","name":"save_states","folder":{}}`)
	})

	p := fg.provider(t)

	dir, err := p.CreateFolder(context.Background(), "save_states")
	require.NoError(t, err)
	assert.Equal(t, "new-dir", dir.ID)
	assert.True(t, dir.IsFolder())
}

func TestCreateFolder_Conflict(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodPost, "/me/drive/special/approot/children", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, `{"error":{"code":"nameAlreadyExists"}}`)
	})

	_, err := fg.provider(t).CreateFolder(context.Background(), "save_states")
	assert.ErrorIs(t, err, cloud.ErrHTTPStatus)
}

func TestDeleteFile(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodDelete, "/me/drive/items/file-1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	p := fg.provider(t)
	ctx := context.Background()

	require.NoError(t, p.DeleteFile(ctx, cloud.NewFile("file-1", "a.srm", cloud.FileData{})))

	err := p.DeleteFile(ctx, cloud.NewFile("gone", "b.srm", cloud.FileData{}))
	assert.True(t, cloud.IsNotFound(err))
}

func TestDownloadFile_RefetchesURLWithoutBearer(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodGet, "/me/drive/items/file-1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, fmt.Sprintf(saveFileJSON, fg.srv.URL+"/content/file-1?sig=abc"))
	})
	fg.handle(http.MethodGet, "/content/file-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, "battery save")
	})

	p := fg.provider(t)
	file := cloud.NewFile("file-1", "zelda.srm", cloud.FileData{})
	dest := filepath.Join(t.TempDir(), "zelda.srm")

	require.NoError(t, p.DownloadFile(context.Background(), file, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "battery save", string(data))
	assert.NotEmpty(t, file.File.DownloadURL)
}

func TestDownloadFile_RejectsFolder(t *testing.T) {
	p := newFakeGraph(t).provider(t)

	err := p.DownloadFile(context.Background(), cloud.NewFolder("d", "dir"), filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, cloud.ErrInvalidTree)
}

func TestUploadFile_SimpleNewFile(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodPut, "/me/drive/items/dir-1:/mario.srm:/content", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, "coins=99", string(body))

		writeJSON(w, http.StatusCreated, `{"id":"up-1","name":"mario.srm","size":8,"file":{"hashes":{"sha1Hash":"ABCD"}}}`)
	})

	local := filepath.Join(t.TempDir(), "mario.srm")
	require.NoError(t, os.WriteFile(local, []byte("coins=99"), 0o600))

	p := fg.provider(t)
	dir := cloud.NewFolder("dir-1", "save_games")
	file := &cloud.Item{Name: "mario.srm", Kind: cloud.KindFile}

	require.NoError(t, p.UploadFile(context.Background(), dir, file, local))
	assert.Equal(t, "up-1", file.ID)
	assert.Equal(t, cloud.HashSHA1, file.File.HashType)
	assert.Equal(t, "ABCD", file.File.HashValue)
}

func TestUploadFile_ExistingFileByID(t *testing.T) {
	fg := newFakeGraph(t)

	fg.handle(http.MethodPut, "/me/drive/items/file-1/content", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"file-1","name":"zelda.srm","file":{"hashes":{"sha1Hash":"NEW"}}}`)
	})

	local := filepath.Join(t.TempDir(), "zelda.srm")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))

	file := cloud.NewFile("file-1", "zelda.srm", cloud.FileData{HashType: cloud.HashSHA1, HashValue: "OLD"})

	require.NoError(t, fg.provider(t).UploadFile(context.Background(), cloud.NewFolder("dir-1", "save_games"), file, local))
	assert.Equal(t, "NEW", file.File.HashValue)
}

var contentRangeRE = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

func TestUploadFile_Session(t *testing.T) {
	fg := newFakeGraph(t)

	size := simpleUploadMaxSize + 1000
	payload := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]

	var (
		mu       sync.Mutex
		received = make([]byte, 0, size)
		chunks   int
	)

	fg.handle(http.MethodPost, "/me/drive/items/dir-1:/big.state:/createUploadSession", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"uploadUrl":"%s/session/1"}`, fg.srv.URL))
	})
	fg.handle(http.MethodPut, "/session/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))

		m := contentRangeRE.FindStringSubmatch(r.Header.Get("Content-Range"))
		if !assert.NotNil(t, m) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Len(t, body, end-start+1)

		mu.Lock()
		assert.Equal(t, len(received), start)
		received = append(received, body...)
		chunks++
		done := len(received) == size
		mu.Unlock()

		if !done {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		writeJSON(w, http.StatusCreated, `{"id":"big-1","name":"big.state","file":{"hashes":{"quickXorHash":"QX"}}}`)
	})

	local := filepath.Join(t.TempDir(), "big.state")
	require.NoError(t, os.WriteFile(local, payload, 0o600))

	p := fg.provider(t)
	p.chunkSize = 5 * chunkAlignment

	file := &cloud.Item{Name: "big.state", Kind: cloud.KindFile}
	require.NoError(t, p.UploadFile(context.Background(), cloud.NewFolder("dir-1", "save_states"), file, local))

	assert.Equal(t, "big-1", file.ID)
	assert.Equal(t, cloud.HashQuickXor, file.File.HashType)
	assert.Equal(t, 3, chunks)
	assert.Equal(t, payload, received)
}

func TestUploadFile_SessionChunkFailureStops(t *testing.T) {
	fg := newFakeGraph(t)

	var (
		mu     sync.Mutex
		chunks int
	)

	fg.handle(http.MethodPost, "/me/drive/items/dir-1:/big.state:/createUploadSession", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"uploadUrl":"%s/session/2"}`, fg.srv.URL))
	})
	fg.handle(http.MethodPut, "/session/2", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		chunks++
		n := chunks
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.WriteHeader(http.StatusInternalServerError)
	})

	local := filepath.Join(t.TempDir(), "big.state")
	require.NoError(t, os.WriteFile(local, make([]byte, simpleUploadMaxSize+1000), 0o600))

	p := fg.provider(t)
	p.chunkSize = 5 * chunkAlignment

	file := &cloud.Item{Name: "big.state", Kind: cloud.KindFile}
	err := p.UploadFile(context.Background(), cloud.NewFolder("dir-1", "save_states"), file, local)
	require.Error(t, err)

	assert.ErrorIs(t, err, cloud.ErrHTTPStatus)
	assert.False(t, cloud.IsTransport(err))
	assert.Empty(t, file.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, chunks)
}

func TestCapabilities(t *testing.T) {
	p := New(Config{TokenURL: "http://unused"})

	assert.Equal(t, "onedrive", p.Name())
	assert.True(t, p.NeedAuthorization())
	assert.False(t, p.ReadyForRequest())
	assert.False(t, p.HaveDefaultCredentials())

	p = New(Config{Name: "work", RefreshToken: "r"})
	assert.Equal(t, "work", p.Name())
	assert.True(t, p.ReadyForRequest())
	assert.Equal(t, cloud.AuthComplete, p.Authorize(context.Background(), nil))
}
