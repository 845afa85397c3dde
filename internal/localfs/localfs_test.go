package localfs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/savesync/internal/cloud"
)

func newProvider(t *testing.T) (*Provider, string) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "remote")

	p, err := New(Config{Root: root})
	require.NoError(t, err)

	return p, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestCapabilities(t *testing.T) {
	p, _ := newProvider(t)

	assert.Equal(t, "local", p.Name())
	assert.False(t, p.NeedAuthorization())
	assert.True(t, p.HaveDefaultCredentials())
	assert.True(t, p.ReadyForRequest())
	assert.NoError(t, p.Authenticate(context.Background()))
	assert.Equal(t, cloud.AuthComplete, p.Authorize(context.Background(), nil))
}

func TestFolderLifecycle(t *testing.T) {
	p, root := newProvider(t)
	ctx := context.Background()

	_, err := p.GetFolderMetadata(ctx, "save_games")
	assert.True(t, cloud.IsNotFound(err))

	created, err := p.CreateFolder(ctx, "save_games")
	require.NoError(t, err)
	assert.Equal(t, "save_games", created.ID)
	assert.DirExists(t, filepath.Join(root, "save_games"))

	_, err = p.CreateFolder(ctx, "save_games")
	assert.ErrorIs(t, err, fs.ErrExist)

	got, err := p.GetFolderMetadata(ctx, "save_games")
	require.NoError(t, err)
	assert.True(t, got.IsFolder())

	writeFile(t, filepath.Join(root, "notes"), "x")
	_, err = p.GetFolderMetadata(ctx, "notes")
	assert.ErrorIs(t, err, ErrNotFolder)
}

func TestListFiles(t *testing.T) {
	p, root := newProvider(t)

	writeFile(t, filepath.Join(root, "save_games", "b.sav"), "bb")
	writeFile(t, filepath.Join(root, "save_games", "a.sav"), "hello world")
	require.NoError(t, os.Mkdir(filepath.Join(root, "save_games", "dir"), 0o755))

	folder := cloud.NewFolder("save_games", "save_games")
	require.NoError(t, p.ListFiles(context.Background(), folder))

	children := folder.Children()
	require.Len(t, children, 3)
	assert.Equal(t, "a.sav", children[0].Name)
	assert.Equal(t, "save_games/a.sav", children[0].ID)
	assert.Equal(t, cloud.HashSHA1, children[0].File.HashType)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", children[0].File.HashValue)
	assert.Equal(t, int64(11), children[0].File.Size)
	assert.Equal(t, "b.sav", children[1].Name)
	assert.True(t, children[2].IsFolder())
}

func TestListFiles_MissingFolder(t *testing.T) {
	p, _ := newProvider(t)

	err := p.ListFiles(context.Background(), cloud.NewFolder("save_states", "save_states"))
	assert.True(t, cloud.IsNotFound(err))
}

func TestUploadDownloadDelete(t *testing.T) {
	p, root := newProvider(t)
	ctx := context.Background()

	folder, err := p.CreateFolder(ctx, "save_games")
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "slot.sav")
	writeFile(t, local, "hello world")

	file := &cloud.Item{Name: "slot.sav"}
	require.NoError(t, p.UploadFile(ctx, folder, file, local))
	assert.Equal(t, "save_games/slot.sav", file.ID)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", file.File.HashValue)
	assert.FileExists(t, filepath.Join(root, "save_games", "slot.sav"))

	byName, err := p.GetFileMetadataByName(ctx, folder, "slot.sav")
	require.NoError(t, err)
	assert.Equal(t, file.ID, byName.ID)
	assert.Equal(t, file.File, byName.File)

	dest := filepath.Join(t.TempDir(), "copy", "slot.sav")
	require.NoError(t, p.DownloadFile(ctx, file, dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	require.NoError(t, p.DeleteFile(ctx, file))
	_, err = p.GetFileMetadata(ctx, file)
	assert.True(t, cloud.IsNotFound(err))
}

func TestResolve_RejectsEscapes(t *testing.T) {
	p, _ := newProvider(t)

	for _, id := range []string{"../outside", "/etc/passwd", "a/../../b"} {
		_, err := p.GetFileMetadata(context.Background(), &cloud.Item{ID: id, Name: "x"})
		assert.ErrorIs(t, err, ErrEscapesRoot, id)
	}
}
