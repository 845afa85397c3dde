// Package checksum computes local file hashes in the formats backends
// report, so a local file can be compared with its remote copy without
// transferring it.
package checksum

import (
	"crypto/md5"  //nolint:gosec // Drive and S3 report MD5
	"crypto/sha1" //nolint:gosec // OneDrive reports SHA1
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/pkg/quickxorhash"
)

// ErrUnsupported is returned for HashNone and unknown hash types.
var ErrUnsupported = errors.New("checksum: unsupported hash type")

// New returns a hash for t.
func New(t cloud.HashType) (hash.Hash, error) {
	switch t {
	case cloud.HashMD5:
		return md5.New(), nil //nolint:gosec // see import
	case cloud.HashSHA1:
		return sha1.New(), nil //nolint:gosec // see import
	case cloud.HashSHA256:
		return sha256.New(), nil
	case cloud.HashQuickXor:
		return quickxorhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

// Encode renders a digest the way backends report it: base64 for
// QuickXor, lowercase hex otherwise.
func Encode(t cloud.HashType, sum []byte) string {
	if t == cloud.HashQuickXor {
		return base64.StdEncoding.EncodeToString(sum)
	}

	return hex.EncodeToString(sum)
}

// Reader hashes r to EOF.
func Reader(r io.Reader, t cloud.HashType) (string, error) {
	h, err := New(t)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: hashing: %w", err)
	}

	return Encode(t, h.Sum(nil)), nil
}

// File hashes the file at path with streaming I/O.
func File(path string, t cloud.HashType) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: opening %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f, t)
}

// Equal compares two encoded digests of type t. Hex digests compare
// case-insensitively; base64 digests exactly. Empty digests never match.
func Equal(t cloud.HashType, a, b string) bool {
	if a == "" || b == "" {
		return false
	}

	if t == cloud.HashQuickXor {
		return a == b
	}

	return strings.EqualFold(a, b)
}

// Matches reports whether the file at path has the remote file's hash.
// A remote item without a hash is compared by size instead.
func Matches(path string, remote *cloud.Item) (bool, error) {
	if remote.File.HashType == cloud.HashNone || remote.File.HashValue == "" {
		info, err := os.Stat(path)
		if err != nil {
			return false, fmt.Errorf("checksum: %w", err)
		}

		return info.Size() == remote.File.Size, nil
	}

	local, err := File(path, remote.File.HashType)
	if err != nil {
		return false, err
	}

	return Equal(remote.File.HashType, local, remote.File.HashValue), nil
}
