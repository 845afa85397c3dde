package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// listChildrenPageSize is the $top value for list requests.
const listChildrenPageSize = 200

// encodePathSegments URL-encodes each segment of a slash-separated path.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// driveItemResponse mirrors the Graph driveItem fields the backend reads.
type driveItemResponse struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Size        int64        `json:"size"`
	File        *fileFacet   `json:"file"`
	Folder      *folderFacet `json:"folder"`
	DownloadURL string       `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

// toItem converts the wire item. It returns nil when the item has neither
// a file nor a folder facet, or lacks an id or name.
func (d *driveItemResponse) toItem(now time.Time) *cloud.Item {
	if d.ID == "" || d.Name == "" {
		return nil
	}

	switch {
	case d.Folder != nil:
		item := cloud.NewFolder(d.ID, d.Name)
		item.LastSyncTime = now

		return item
	case d.File != nil:
		data := cloud.FileData{Size: d.Size, DownloadURL: d.DownloadURL}

		if h := d.File.Hashes; h != nil {
			switch {
			case h.SHA256Hash != "":
				data.HashType, data.HashValue = cloud.HashSHA256, h.SHA256Hash
			case h.SHA1Hash != "":
				data.HashType, data.HashValue = cloud.HashSHA1, h.SHA1Hash
			case h.QuickXorHash != "":
				data.HashType, data.HashValue = cloud.HashQuickXor, h.QuickXorHash
			}
		}

		item := cloud.NewFile(d.ID, d.Name, data)
		item.LastSyncTime = now

		return item
	default:
		return nil
	}
}

// decodeItem decodes a single driveItem body.
func decodeItem(resp *rest.Response) (*cloud.Item, error) {
	var dir driveItemResponse
	if err := rest.DecodeJSON(resp, &dir); err != nil {
		return nil, err
	}

	item := dir.toItem(time.Now())
	if item == nil {
		return nil, fmt.Errorf("graph: item %q has no file or folder facet: %w", dir.ID, cloud.ErrParse)
	}

	return item, nil
}

// fetchItem GETs one driveItem.
func (p *Provider) fetchItem(ctx context.Context, opName, apiPath string) (*cloud.Item, error) {
	op, err := authorized[*cloud.Item](ctx, p, opName, rest.NewRequest(http.MethodGet, p.url(apiPath)))
	if err != nil {
		return nil, err
	}

	op.On(http.StatusOK, rest.Succeed(func(op *rest.Operation[*cloud.Item], resp *rest.Response) error {
		item, decErr := decodeItem(resp)
		op.State = item

		return decErr
	}))

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return nil, err
	}

	return op.State, nil
}

// ListFiles appends the folder's children, following @odata.nextLink.
func (p *Provider) ListFiles(ctx context.Context, folder *cloud.Item) error {
	first := p.url("/me/drive/items/" + url.PathEscape(folder.ID) + "/children")

	err := cloud.ListInto(ctx, folder, func(ctx context.Context, token string) (cloud.Page, error) {
		req := rest.NewRequest(http.MethodGet, first)
		if token != "" {
			// nextLink is absolute and already carries $top.
			req.URL = token
		} else {
			req.Params = url.Values{"$top": {strconv.Itoa(listChildrenPageSize)}}
		}

		return p.listPage(ctx, req)
	})

	return p.opError("ListFiles", folder.Name, err)
}

func (p *Provider) listPage(ctx context.Context, req *rest.Request) (cloud.Page, error) {
	op, err := authorized[cloud.Page](ctx, p, "list", req)
	if err != nil {
		return cloud.Page{}, err
	}

	op.On(http.StatusOK, rest.Succeed(func(op *rest.Operation[cloud.Page], resp *rest.Response) error {
		var lcr listChildrenResponse
		if err := rest.DecodeJSON(resp, &lcr); err != nil {
			return err
		}

		now := time.Now()
		items := make([]*cloud.Item, 0, len(lcr.Value))

		for i := range lcr.Value {
			item := lcr.Value[i].toItem(now)
			if item == nil {
				p.logger.Debug("skipping item without file or folder facet",
					slog.String("item_id", lcr.Value[i].ID),
				)

				continue
			}

			items = append(items, item)
		}

		op.State = cloud.Page{Items: items, NextToken: lcr.NextLink}

		return nil
	}))

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return cloud.Page{}, err
	}

	return op.State, nil
}

// GetFolderMetadata resolves a folder directly under the app root.
func (p *Provider) GetFolderMetadata(ctx context.Context, name string) (*cloud.Item, error) {
	item, err := p.fetchItem(ctx, "get-folder", "/me/drive/special/approot:/"+encodePathSegments(name)+":")
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
	item, err := p.fetchItem(ctx, "get-item", "/me/drive/items/"+url.PathEscape(file.ID))
	if err != nil {
		return nil, p.opError("GetFileMetadata", file.Name, err)
	}

	return item, nil
}

// GetFileMetadataByName resolves name inside folder by path.
func (p *Provider) GetFileMetadataByName(ctx context.Context, folder *cloud.Item, name string) (*cloud.Item, error) {
	apiPath := "/me/drive/special/approot:/" + encodePathSegments(folder.Name+"/"+name) + ":"

	item, err := p.fetchItem(ctx, "get-item-by-name", apiPath)
	if err != nil {
		return nil, p.opError("GetFileMetadataByName", name, err)
	}

	return item, nil
}

// CreateFolder creates name under the app root. An existing folder of the
// same name is a conflict, not a success.
func (p *Provider) CreateFolder(ctx context.Context, name string) (*cloud.Item, error) {
	body, err := json.Marshal(createFolderRequest{Name: name, ConflictBehavior: "fail"})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	req := rest.NewRequest(http.MethodPost, p.url("/me/drive/special/approot/children"))
	req.Header.Set("Content-Type", "application/json")
	req.Body = body

	op, err := authorized[*cloud.Item](ctx, p, "create-folder", req)
	if err != nil {
		return nil, p.opError("CreateFolder", name, err)
	}

	created := rest.Succeed(func(op *rest.Operation[*cloud.Item], resp *rest.Response) error {
		item, decErr := decodeItem(resp)
		op.State = item

		return decErr
	})
	op.On(http.StatusOK, created).On(http.StatusCreated, created)

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return nil, p.opError("CreateFolder", name, err)
	}

	p.logger.Info("created folder",
		slog.String("provider", p.name),
		slog.String("name", name),
		slog.String("item_id", op.State.ID),
	)

	return op.State, nil
}

// DeleteFile removes file by id.
func (p *Provider) DeleteFile(ctx context.Context, file *cloud.Item) error {
	req := rest.NewRequest(http.MethodDelete, p.url("/me/drive/items/"+url.PathEscape(file.ID)))

	op, err := authorized[struct{}](ctx, p, "delete", req)
	if err != nil {
		return p.opError("DeleteFile", file.Name, err)
	}

	op.On(http.StatusNoContent, rest.Succeed(func(*rest.Operation[struct{}], *rest.Response) error { return nil }))

	return p.opError("DeleteFile", file.Name, rest.Execute(ctx, p.engine, op))
}
