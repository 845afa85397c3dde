// Package tokenfile persists OAuth tokens, one JSON file per provider, under
// a tokens directory. Store implements auth.CredentialStore on top of it.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the tokens directory.
const DirPerms = 0o700

// File is the on-disk format: the OAuth token plus optional metadata cached
// from the provider (account name, provider type).
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a token file. Returns (nil, nil, nil) if the file does not exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	return tf.Token, tf.Meta, nil
}

// Save writes a token file atomically (temp file + rename) with 0600
// permissions. Never logs token values.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	data, err := json.MarshalIndent(File{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Store keeps each provider's tokens in <dir>/<provider>.json. A single
// mutex serializes the read-modify-write of access and refresh tokens, which
// share one file.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore returns a Store rooted at dir. The directory is created on first
// save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the token file for provider.
func (s *Store) Path(provider string) string {
	return filepath.Join(s.dir, provider+".json")
}

// SaveAccessToken records the access token and its expiration, keeping any
// stored refresh token.
func (s *Store) SaveAccessToken(provider, token string, expiration time.Time) error {
	return s.update(provider, func(tok *oauth2.Token, _ map[string]string) {
		tok.AccessToken = token
		tok.TokenType = "Bearer"
		tok.Expiry = expiration
	})
}

// LoadAccessToken returns the stored access token, or "" when none exists.
func (s *Store) LoadAccessToken(provider string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, _, err := Load(s.Path(provider))
	if err != nil || tok == nil {
		return "", time.Time{}, err
	}

	return tok.AccessToken, tok.Expiry, nil
}

// SaveRefreshToken records the refresh token, keeping any stored access token.
func (s *Store) SaveRefreshToken(provider, refreshToken string) error {
	return s.update(provider, func(tok *oauth2.Token, _ map[string]string) {
		tok.RefreshToken = refreshToken
	})
}

// LoadRefreshToken returns the stored refresh token, or "" when none exists.
func (s *Store) LoadRefreshToken(provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, _, err := Load(s.Path(provider))
	if err != nil || tok == nil {
		return "", err
	}

	return tok.RefreshToken, nil
}

// MergeMeta merges metadata keys into the provider's token file. New keys
// overwrite existing ones.
func (s *Store) MergeMeta(provider string, meta map[string]string) error {
	return s.update(provider, func(_ *oauth2.Token, existing map[string]string) {
		maps.Copy(existing, meta)
	})
}

// Meta returns the cached metadata, or nil when no file exists.
func (s *Store) Meta(provider string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, meta, err := Load(s.Path(provider))

	return meta, err
}

// Delete removes the provider's token file. A missing file is not an error.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path(provider))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", s.Path(provider), err)
	}

	return nil
}

func (s *Store) update(provider string, mutate func(*oauth2.Token, map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(provider)

	tok, meta, err := Load(path)
	if err != nil {
		return err
	}

	if tok == nil {
		tok = &oauth2.Token{}
	}

	if meta == nil {
		meta = make(map[string]string)
	}

	mutate(tok, meta)

	if len(meta) == 0 {
		meta = nil
	}

	return Save(path, tok, meta)
}
