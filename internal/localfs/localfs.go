// Package localfs implements a provider backed by a local directory, used
// for offline sync targets such as a mounted share and in tests. Role
// folders are subdirectories of the root; an item id is its slash-separated
// path relative to the root.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/tonimelisma/savesync/internal/checksum"
	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

const (
	defaultName = "local"
	dirPerms    = 0o755
)

var (
	// ErrNoRoot is returned by New when no root directory is configured.
	ErrNoRoot = errors.New("localfs: root directory is required")

	ErrNotFolder = errors.New("localfs: item is not a folder")

	// ErrEscapesRoot is returned for ids that would resolve outside the root.
	ErrEscapesRoot = errors.New("localfs: path escapes root")
)

// Config configures a local folder provider.
type Config struct {
	Name   string
	Root   string
	Logger *slog.Logger
}

// Provider is the local directory cloud.Provider.
type Provider struct {
	name   string
	root   string
	logger *slog.Logger
	now    func() time.Time
}

var _ cloud.Provider = (*Provider)(nil)

// New returns a provider rooted at cfg.Root. The root is created on demand
// by CreateFolder, not here.
func New(cfg Config) (*Provider, error) {
	if cfg.Root == "" {
		return nil, ErrNoRoot
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = defaultName
	}

	return &Provider{name: name, root: filepath.Clean(cfg.Root), logger: logger, now: time.Now}, nil
}

func (p *Provider) Name() string                 { return p.name }
func (p *Provider) NeedAuthorization() bool      { return false }
func (p *Provider) HaveDefaultCredentials() bool { return true }
func (p *Provider) ReadyForRequest() bool        { return true }

// Authenticate checks that the root, if it exists, is a directory.
func (p *Provider) Authenticate(context.Context) error {
	info, err := os.Stat(p.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return p.opError("Authenticate", p.root, fmt.Errorf("%w: %w", cloud.ErrTransport, err))
	}

	if !info.IsDir() {
		return p.opError("Authenticate", p.root, fmt.Errorf("%w: %s", ErrNotFolder, p.root))
	}

	return nil
}

func (p *Provider) Authorize(context.Context, func(bool)) cloud.AuthorizationStatus {
	return cloud.AuthComplete
}

// ListFiles appends the folder's entries in name order. Entries that are
// neither regular files nor directories are skipped.
func (p *Provider) ListFiles(ctx context.Context, folder *cloud.Item) error {
	err := cloud.ListInto(ctx, folder, func(ctx context.Context, _ string) (cloud.Page, error) {
		dir, err := p.resolve(folder.ID)
		if err != nil {
			return cloud.Page{}, err
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return cloud.Page{}, classify(err)
		}

		items := make([]*cloud.Item, 0, len(entries))

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return cloud.Page{}, fmt.Errorf("%w: %w", cloud.ErrTransport, err)
			}

			id := path.Join(folder.ID, e.Name())

			info, err := e.Info()
			if err != nil {
				return cloud.Page{}, classify(err)
			}

			item, err := p.toItem(id, info)
			if err != nil {
				return cloud.Page{}, err
			}

			if item == nil {
				p.logger.Debug("skipping special file", slog.String("path", id))
				continue
			}

			items = append(items, item)
		}

		return cloud.Page{Items: items}, nil
	})

	return p.opError("ListFiles", folder.Name, err)
}

// GetFolderMetadata resolves a role folder under the root.
func (p *Provider) GetFolderMetadata(_ context.Context, name string) (*cloud.Item, error) {
	item, err := p.stat(name)
	if err == nil && !item.IsFolder() {
		err = fmt.Errorf("%w: %q", ErrNotFolder, name)
	}

	if err != nil {
		return nil, p.opError("GetFolderMetadata", name, err)
	}

	return item, nil
}

func (p *Provider) GetFileMetadata(_ context.Context, file *cloud.Item) (*cloud.Item, error) {
	item, err := p.stat(file.ID)
	if err != nil {
		return nil, p.opError("GetFileMetadata", file.Name, err)
	}

	return item, nil
}

func (p *Provider) GetFileMetadataByName(_ context.Context, folder *cloud.Item, name string) (*cloud.Item, error) {
	item, err := p.stat(path.Join(folder.ID, name))
	if err != nil {
		return nil, p.opError("GetFileMetadataByName", name, err)
	}

	return item, nil
}

// CreateFolder creates a role folder. An existing folder is an error
// matching fs.ErrExist.
func (p *Provider) CreateFolder(_ context.Context, name string) (*cloud.Item, error) {
	dir, err := p.resolve(name)
	if err != nil {
		return nil, p.opError("CreateFolder", name, err)
	}

	if err := os.MkdirAll(p.root, dirPerms); err != nil {
		return nil, p.opError("CreateFolder", name, fmt.Errorf("%w: %w", cloud.ErrTransport, err))
	}

	if err := os.Mkdir(dir, dirPerms); err != nil {
		return nil, p.opError("CreateFolder", name, err)
	}

	p.logger.Info("created folder", slog.String("provider", p.name), slog.String("name", name))

	item := cloud.NewFolder(name, name)
	item.LastSyncTime = p.now()

	return item, nil
}

func (p *Provider) DeleteFile(_ context.Context, file *cloud.Item) error {
	full, err := p.resolve(file.ID)
	if err == nil {
		err = os.Remove(full)
		if err != nil {
			err = classify(err)
		}
	}

	return p.opError("DeleteFile", file.Name, err)
}

func (p *Provider) DownloadFile(_ context.Context, file *cloud.Item, localPath string) error {
	if file.IsFolder() {
		return p.opError("DownloadFile", file.Name, fmt.Errorf("%w: cannot download a folder", cloud.ErrInvalidTree))
	}

	full, err := p.resolve(file.ID)
	if err != nil {
		return p.opError("DownloadFile", file.Name, err)
	}

	return p.opError("DownloadFile", file.Name, copyFile(full, localPath))
}

// UploadFile copies localPath to file's id, or to dir/name for a new file,
// then refreshes file's metadata.
func (p *Provider) UploadFile(_ context.Context, dir, file *cloud.Item, localPath string) error {
	id := file.ID
	if id == "" {
		id = path.Join(dir.ID, file.Name)
	}

	full, err := p.resolve(id)
	if err != nil {
		return p.opError("UploadFile", file.Name, err)
	}

	if err := copyFile(localPath, full); err != nil {
		return p.opError("UploadFile", file.Name, err)
	}

	stored, err := p.stat(id)
	if err != nil {
		return p.opError("UploadFile", file.Name, err)
	}

	file.ID = id
	file.Update(stored)

	p.logger.Info("uploaded file",
		slog.String("provider", p.name),
		slog.String("name", file.Name),
		slog.String("item_id", id),
	)

	return nil
}

// resolve maps an id onto the filesystem, refusing ids outside the root.
func (p *Provider) resolve(id string) (string, error) {
	if id == "" {
		return p.root, nil
	}

	local := filepath.FromSlash(id)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, id)
	}

	return filepath.Join(p.root, local), nil
}

func (p *Provider) stat(id string) (*cloud.Item, error) {
	full, err := p.resolve(id)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, classify(err)
	}

	item, err := p.toItem(id, info)
	if err != nil {
		return nil, err
	}

	if item == nil {
		return nil, fmt.Errorf("%w: %q is neither a file nor a directory", cloud.ErrParse, id)
	}

	return item, nil
}

// toItem returns nil for entries that are neither files nor directories.
func (p *Provider) toItem(id string, info fs.FileInfo) (*cloud.Item, error) {
	var item *cloud.Item

	switch {
	case info.IsDir():
		item = cloud.NewFolder(id, info.Name())
	case info.Mode().IsRegular():
		full, _ := p.resolve(id)

		sum, err := checksum.File(full, cloud.HashSHA1)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", cloud.ErrTransport, err)
		}

		item = cloud.NewFile(id, info.Name(), cloud.FileData{
			HashType:  cloud.HashSHA1,
			HashValue: sum,
			Size:      info.Size(),
		})
	default:
		return nil, nil
	}

	item.LastSyncTime = p.now()

	return item, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return classify(err)
	}
	defer in.Close()

	if err := rest.WriteFileAtomic(dst, in); err != nil {
		return fmt.Errorf("%w: %w", cloud.ErrTransport, err)
	}

	return nil
}

func classify(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", cloud.ErrNotFound, err)
	}

	return fmt.Errorf("%w: %w", cloud.ErrTransport, err)
}

func (p *Provider) opError(op, name string, err error) error {
	if err == nil {
		return nil
	}

	return &cloud.OpError{Op: op, Provider: p.name, Name: name, Err: err}
}
