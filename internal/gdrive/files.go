package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// quote renders s as a Drive query string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// toItem converts a Drive file. It returns nil when id or name is missing.
func toItem(f *drive.File, now time.Time) *cloud.Item {
	if f == nil || f.Id == "" || f.Name == "" {
		return nil
	}

	var item *cloud.Item

	if f.MimeType == folderMimeType {
		item = cloud.NewFolder(f.Id, f.Name)
	} else {
		data := cloud.FileData{Size: f.Size}
		if f.Md5Checksum != "" {
			data.HashType, data.HashValue = cloud.HashMD5, f.Md5Checksum
		}

		item = cloud.NewFile(f.Id, f.Name, data)
	}

	item.LastSyncTime = now

	return item
}

// ListFiles appends the folder's children, following nextPageToken.
func (p *Provider) ListFiles(ctx context.Context, folder *cloud.Item) error {
	err := cloud.ListInto(ctx, folder, func(ctx context.Context, token string) (cloud.Page, error) {
		req := rest.NewRequest(http.MethodGet, p.filesURL(""))
		req.Params = url.Values{
			"q":      {quote(folder.ID) + " in parents"},
			"spaces": {appDataFolder},
			"fields": {"nextPageToken,files(id,name,mimeType,md5Checksum,size)"},
		}

		if token != "" {
			req.Params.Set("pageToken", token)
		}

		list, err := p.query(ctx, "list", req)
		if err != nil {
			return cloud.Page{}, err
		}

		now := time.Now()
		items := make([]*cloud.Item, 0, len(list.Files))

		for _, f := range list.Files {
			item := toItem(f, now)
			if item == nil {
				p.logger.Debug("skipping file without id or name")
				continue
			}

			items = append(items, item)
		}

		return cloud.Page{Items: items, NextToken: list.NextPageToken}, nil
	})

	return p.opError("ListFiles", folder.Name, err)
}

// query runs a files.list request.
func (p *Provider) query(ctx context.Context, name string, req *rest.Request) (*drive.FileList, error) {
	op, err := authorized[*drive.FileList](ctx, p, name, req)
	if err != nil {
		return nil, err
	}

	op.On(http.StatusOK, rest.Succeed(func(op *rest.Operation[*drive.FileList], resp *rest.Response) error {
		var list drive.FileList
		if err := rest.DecodeJSON(resp, &list); err != nil {
			return err
		}

		op.State = &list

		return nil
	}))

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return nil, err
	}

	return op.State, nil
}

// findFirst returns the first match of q, or ErrNotFound.
func (p *Provider) findFirst(ctx context.Context, name, q string) (*cloud.Item, error) {
	req := rest.NewRequest(http.MethodGet, p.filesURL(""))
	req.Params = url.Values{
		"q":      {q},
		"spaces": {appDataFolder},
		"fields": {"files(id,name,mimeType,md5Checksum,size)"},
	}

	list, err := p.query(ctx, name, req)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, f := range list.Files {
		if item := toItem(f, now); item != nil {
			return item, nil
		}
	}

	return nil, cloud.ErrNotFound
}

// GetFolderMetadata finds a folder by name directly under appDataFolder.
func (p *Provider) GetFolderMetadata(ctx context.Context, name string) (*cloud.Item, error) {
	q := fmt.Sprintf("name=%s and mimeType=%s and %s in parents", quote(name), quote(folderMimeType), quote(appDataFolder))

	item, err := p.findFirst(ctx, "get-folder", q)
	if err == nil && !item.IsFolder() {
		err = fmt.Errorf("%w: %q", ErrNotFolder, name)
	}

	if err != nil {
		return nil, p.opError("GetFolderMetadata", name, err)
	}

	return item, nil
}

// GetFileMetadata re-fetches file by id.
func (p *Provider) GetFileMetadata(ctx context.Context, file *cloud.Item) (*cloud.Item, error) {
	req := rest.NewRequest(http.MethodGet, p.filesURL("/"+url.PathEscape(file.ID)))
	req.Params = url.Values{"spaces": {appDataFolder}, "fields": {itemFields}}

	item, err := p.fileOp(ctx, "get-item", req)
	if err != nil {
		return nil, p.opError("GetFileMetadata", file.Name, err)
	}

	return item, nil
}

// GetFileMetadataByName finds name among folder's children.
func (p *Provider) GetFileMetadataByName(ctx context.Context, folder *cloud.Item, name string) (*cloud.Item, error) {
	q := fmt.Sprintf("name=%s and %s in parents", quote(name), quote(folder.ID))

	item, err := p.findFirst(ctx, "get-item-by-name", q)
	if err != nil {
		return nil, p.opError("GetFileMetadataByName", name, err)
	}

	return item, nil
}

// fileOp runs a request whose 200 or 201 reply is a single Drive file.
func (p *Provider) fileOp(ctx context.Context, name string, req *rest.Request) (*cloud.Item, error) {
	op, err := authorized[*cloud.Item](ctx, p, name, req)
	if err != nil {
		return nil, err
	}

	decode := rest.Succeed(func(op *rest.Operation[*cloud.Item], resp *rest.Response) error {
		var f drive.File
		if err := rest.DecodeJSON(resp, &f); err != nil {
			return err
		}

		op.State = toItem(&f, time.Now())
		if op.State == nil {
			return fmt.Errorf("gdrive: file without id or name: %w", cloud.ErrParse)
		}

		return nil
	})
	op.On(http.StatusOK, decode).On(http.StatusCreated, decode)

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return nil, err
	}

	return op.State, nil
}

// CreateFolder creates name under appDataFolder.
func (p *Provider) CreateFolder(ctx context.Context, name string) (*cloud.Item, error) {
	body, err := json.Marshal(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{appDataFolder},
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: marshaling create folder request: %w", err)
	}

	req := rest.NewRequest(http.MethodPost, p.filesURL(""))
	req.Params = url.Values{"fields": {itemFields}}
	req.Header.Set("Content-Type", "application/json")
	req.Body = body

	item, err := p.fileOp(ctx, "create-folder", req)
	if err != nil {
		return nil, p.opError("CreateFolder", name, err)
	}

	p.logger.Info("created folder",
		slog.String("provider", p.name),
		slog.String("name", name),
		slog.String("item_id", item.ID),
	)

	return item, nil
}

// DeleteFile removes file by id.
func (p *Provider) DeleteFile(ctx context.Context, file *cloud.Item) error {
	req := rest.NewRequest(http.MethodDelete, p.filesURL("/"+url.PathEscape(file.ID)))

	op, err := authorized[struct{}](ctx, p, "delete", req)
	if err != nil {
		return p.opError("DeleteFile", file.Name, err)
	}

	ok := rest.Succeed(func(*rest.Operation[struct{}], *rest.Response) error { return nil })
	op.On(http.StatusOK, ok).On(http.StatusNoContent, ok)

	return p.opError("DeleteFile", file.Name, rest.Execute(ctx, p.engine, op))
}
