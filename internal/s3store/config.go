// Package s3store implements the static-credential backend on Amazon S3
// and S3-compatible stores. Folders are key prefixes under an optional root
// and an item id is its object key (a folder's id is its prefix).
package s3store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonimelisma/savesync/internal/rest"
)

// DefaultMaxKeys is the page size for ListObjectsV2.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the largest page S3 serves.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is used for AWS proper when nothing else names a region.
const DefaultAWSRegion = "us-east-1"

const defaultName = "s3"

// ErrConfig is wrapped by every configuration error.
var ErrConfig = errors.New("s3store: invalid configuration")

// Config configures an S3 provider.
//
// Credentials come from AccessKeyID/SecretAccessKey when set, otherwise
// from the SDK default chain (environment, shared files, instance roles).
// For S3-compatible stores set Endpoint and usually PathStyle.
type Config struct {
	Name   string
	Bucket string
	Region string

	// Endpoint is a custom endpoint URL, e.g. http://localhost:9000.
	Endpoint string

	AccessKeyID     string
	SecretAccessKey string

	// Root is the key prefix all role folders live under.
	Root string

	PathStyle bool
	MaxKeys   int

	// ConnectTimeout bounds dialing the endpoint. Zero keeps the SDK default.
	ConnectTimeout time.Duration

	Observer rest.Observer
	Logger   *slog.Logger
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket name is required", ErrConfig)
	}

	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return fmt.Errorf("%w: access key id and secret access key must be provided together", ErrConfig)
	}

	return nil
}

// prefix returns the folder prefix for a role folder name.
func (c *Config) prefix(name string) string {
	root := strings.Trim(c.Root, "/")
	if root == "" {
		return name + "/"
	}

	return root + "/" + name + "/"
}

func clampMaxKeys(n int) int32 {
	if n <= 0 {
		n = DefaultMaxKeys
	}

	return int32(min(n, MaxAllowedKeys)) //nolint:gosec // clamped to 1000
}

// resolveRegion applies the us-east-1 fallback for AWS proper. Custom
// endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}

	if endpoint == "" {
		return DefaultAWSRegion
	}

	return ""
}
