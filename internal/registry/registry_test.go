package registry

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/config"
	"github.com/tonimelisma/savesync/internal/gdrive"
	"github.com/tonimelisma/savesync/internal/graph"
	"github.com/tonimelisma/savesync/internal/localfs"
	"github.com/tonimelisma/savesync/internal/metrics"
	"github.com/tonimelisma/savesync/internal/s3store"
	"github.com/tonimelisma/savesync/internal/tokenfile"
)

func testDeps(t *testing.T) Deps {
	t.Helper()

	return Deps{
		HTTPClient: http.DefaultClient,
		UserAgent:  "savesync-test",
		Store:      tokenfile.NewStore(t.TempDir()),
		Observer:   metrics.New(),
	}
}

func TestBuild_Types(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	tests := []struct {
		name      string
		pc        config.ProviderConfig
		wantType  any
		needsAuth bool
		wantReady bool
	}{
		{
			name:      "onedrive",
			pc:        config.ProviderConfig{Type: config.TypeOneDrive, ClientID: "cid"},
			wantType:  &graph.Provider{},
			needsAuth: true,
		},
		{
			name:      "gdrive",
			pc:        config.ProviderConfig{Type: config.TypeGDrive, ClientID: "cid", ClientSecret: "sec"},
			wantType:  &gdrive.Provider{},
			needsAuth: true,
		},
		{
			name: "s3",
			pc: config.ProviderConfig{
				Type: config.TypeS3, Bucket: "saves", Region: "us-east-1",
				Endpoint: "http://127.0.0.1:1", PathStyle: true,
				AccessKeyID: "AKID", SecretAccessKey: "secret",
			},
			wantType:  &s3store.Provider{},
			wantReady: true,
		},
		{
			name:      "local",
			pc:        config.ProviderConfig{Type: config.TypeLocal, Root: root},
			wantType:  &localfs.Provider{},
			wantReady: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := Build(context.Background(), tt.name, tt.pc, testDeps(t))
			require.NoError(t, err)

			assert.IsType(t, tt.wantType, p)
			assert.Equal(t, tt.name, p.Name())
			assert.Equal(t, tt.needsAuth, p.NeedAuthorization())
			assert.Equal(t, tt.wantReady, p.ReadyForRequest())
		})
	}
}

func TestBuild_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), "x", config.ProviderConfig{Type: "ftp"}, testDeps(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Contains(t, err.Error(), `"ftp"`)
}

func TestBuild_FactoryError(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), "bucketless", config.ProviderConfig{Type: config.TypeS3}, testDeps(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, s3store.ErrConfig)
	assert.Contains(t, err.Error(), `"bucketless"`)
}

func TestBuild_NilObserver(t *testing.T) {
	t.Parallel()

	deps := testDeps(t)
	deps.Observer = nil

	p, err := Build(context.Background(), "od", config.ProviderConfig{Type: config.TypeOneDrive}, deps)
	require.NoError(t, err)
	assert.False(t, p.ReadyForRequest())
}

func TestBuildAll_NameOrder(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Providers = map[string]config.ProviderConfig{
		"zeta":  {Type: config.TypeLocal, Root: filepath.Join(t.TempDir(), "z")},
		"alpha": {Type: config.TypeLocal, Root: filepath.Join(t.TempDir(), "a")},
	}

	ps, err := BuildAll(context.Background(), cfg, testDeps(t))
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "alpha", ps[0].Name())
	assert.Equal(t, "zeta", ps[1].Name())
}

func TestRegister_Custom(t *testing.T) {
	errBoom := errors.New("boom")

	Register("test-custom", func(context.Context, string, config.ProviderConfig, Deps) (cloud.Provider, error) {
		return nil, errBoom
	})

	t.Cleanup(func() {
		mu.Lock()
		delete(factories, "test-custom")
		mu.Unlock()
	})

	assert.Contains(t, Types(), "test-custom")

	_, err := Build(context.Background(), "c", config.ProviderConfig{Type: "test-custom"}, testDeps(t))
	assert.ErrorIs(t, err, errBoom)
}
