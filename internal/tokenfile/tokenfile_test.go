package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoad_FileNotFound(t *testing.T) {
	tok, meta, err := Load("/nonexistent/path/token.json")
	assert.Nil(t, tok)
	assert.Nil(t, meta)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onedrive.json")
	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, Save(path, &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}, map[string]string{"type": "onedrive"}))

	tok, meta, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", tok.AccessToken)
	assert.Equal(t, "refresh-456", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))
	assert.Equal(t, "onedrive", meta["type"])
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"old"}`), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestSave_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_AccessAndRefreshShareFile(t *testing.T) {
	s := NewStore(t.TempDir())
	exp := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveRefreshToken("gdrive", "r1"))
	require.NoError(t, s.SaveAccessToken("gdrive", "a1", exp))

	rt, err := s.LoadRefreshToken("gdrive")
	require.NoError(t, err)
	assert.Equal(t, "r1", rt)

	at, gotExp, err := s.LoadAccessToken("gdrive")
	require.NoError(t, err)
	assert.Equal(t, "a1", at)
	assert.True(t, gotExp.Equal(exp))

	// Rotating the refresh token keeps the access token.
	require.NoError(t, s.SaveRefreshToken("gdrive", "r2"))

	at, _, err = s.LoadAccessToken("gdrive")
	require.NoError(t, err)
	assert.Equal(t, "a1", at)
}

func TestStore_EmptyWhenMissing(t *testing.T) {
	s := NewStore(t.TempDir())

	at, exp, err := s.LoadAccessToken("onedrive")
	require.NoError(t, err)
	assert.Empty(t, at)
	assert.True(t, exp.IsZero())

	rt, err := s.LoadRefreshToken("onedrive")
	require.NoError(t, err)
	assert.Empty(t, rt)
}

func TestStore_ProvidersAreIsolated(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.SaveRefreshToken("onedrive", "od"))
	require.NoError(t, s.SaveRefreshToken("gdrive", "gd"))

	rt, err := s.LoadRefreshToken("onedrive")
	require.NoError(t, err)
	assert.Equal(t, "od", rt)
}

func TestStore_MetaAndDelete(t *testing.T) {
	s := NewStore(t.TempDir())

	require.NoError(t, s.SaveRefreshToken("onedrive", "r"))
	require.NoError(t, s.MergeMeta("onedrive", map[string]string{"account": "alice"}))
	require.NoError(t, s.MergeMeta("onedrive", map[string]string{"type": "onedrive"}))

	meta, err := s.Meta("onedrive")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"account": "alice", "type": "onedrive"}, meta)

	require.NoError(t, s.Delete("onedrive"))
	assert.NoFileExists(t, s.Path("onedrive"))
	require.NoError(t, s.Delete("onedrive"), "deleting twice is fine")
}
