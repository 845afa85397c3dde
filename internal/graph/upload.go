package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// uploadChunkSize is the session chunk size.
const uploadChunkSize = 10 * chunkAlignment

// simpleUploadMaxSize is the largest file sent as a single PUT (4 MiB).
const simpleUploadMaxSize = 4 * 1024 * 1024

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL string `json:"uploadUrl"`
}

// UploadFile writes localPath into dir. An existing file is replaced by id;
// a new file is created by name under dir. On success file carries the
// remote id and hash.
func (p *Provider) UploadFile(ctx context.Context, dir, file *cloud.Item, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return p.opError("UploadFile", file.Name, fmt.Errorf("graph: stat %s: %w", localPath, err))
	}

	size := info.Size()

	var uploaded *cloud.Item

	if size <= simpleUploadMaxSize {
		uploaded, err = p.simpleUpload(ctx, dir, file, localPath)
	} else {
		uploaded, err = p.sessionUpload(ctx, dir, file, localPath, size)
	}

	if err != nil {
		return p.opError("UploadFile", file.Name, err)
	}

	if file.ID == "" {
		file.ID = uploaded.ID
	}

	file.Update(uploaded)

	p.logger.Info("uploaded file",
		slog.String("provider", p.name),
		slog.String("name", file.Name),
		slog.String("item_id", file.ID),
		slog.Int64("size", size),
	)

	return nil
}

// itemPath addresses the file by id when known, otherwise by name under dir.
func (p *Provider) itemPath(dir, file *cloud.Item, suffix string) string {
	if file.ID != "" {
		return p.url("/me/drive/items/" + url.PathEscape(file.ID) + "/" + suffix)
	}

	return p.url("/me/drive/items/" + url.PathEscape(dir.ID) + ":/" + url.PathEscape(file.Name) + ":/" + suffix)
}

func (p *Provider) simpleUpload(ctx context.Context, dir, file *cloud.Item, localPath string) (*cloud.Item, error) {
	req := rest.NewRequest(http.MethodPut, p.itemPath(dir, file, "content"))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.BodyFile = &rest.FileSection{Path: localPath, Length: -1}

	op, err := authorized[*cloud.Item](ctx, p, "upload", req)
	if err != nil {
		return nil, err
	}

	done := rest.Succeed(func(op *rest.Operation[*cloud.Item], resp *rest.Response) error {
		item, decErr := decodeItem(resp)
		op.State = item

		return decErr
	})
	op.On(http.StatusOK, done).On(http.StatusCreated, done)

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return nil, err
	}

	return op.State, nil
}

func (p *Provider) createUploadSession(ctx context.Context, dir, file *cloud.Item) (string, error) {
	body, err := json.Marshal(createUploadSessionRequest{
		Item: uploadSessionItem{ConflictBehavior: "replace"},
	})
	if err != nil {
		return "", fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	req := rest.NewRequest(http.MethodPost, p.itemPath(dir, file, "createUploadSession"))
	req.Header.Set("Content-Type", "application/json")
	req.Body = body

	op, err := authorized[string](ctx, p, "create-upload-session", req)
	if err != nil {
		return "", err
	}

	op.On(http.StatusOK, rest.Succeed(func(op *rest.Operation[string], resp *rest.Response) error {
		var usr uploadSessionResponse
		if decErr := rest.DecodeJSON(resp, &usr); decErr != nil {
			return decErr
		}

		if usr.UploadURL == "" {
			return fmt.Errorf("graph: upload session without uploadUrl: %w", cloud.ErrParse)
		}

		op.State = usr.UploadURL

		return nil
	}))

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return "", err
	}

	return op.State, nil
}

// chunkState is the payload of one chunk PUT.
type chunkState struct {
	offset int64
	item   *cloud.Item // set by the final chunk
}

// sessionUpload sends the file in aligned chunks to a pre-authenticated
// session URL. 202 means more chunks are expected; 200 or 201 carries the
// finished item.
func (p *Provider) sessionUpload(ctx context.Context, dir, file *cloud.Item, localPath string, size int64) (*cloud.Item, error) {
	uploadURL, err := p.createUploadSession(ctx, dir, file)
	if err != nil {
		return nil, err
	}

	for offset := int64(0); offset < size; offset += p.chunkSize {
		length := min(p.chunkSize, size-offset)

		req := rest.NewRequest(http.MethodPut, uploadURL)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, size))
		req.BodyFile = &rest.FileSection{Path: localPath, Offset: offset, Length: length}

		var finished *cloud.Item

		op := &rest.Operation[chunkState]{
			Name:    "upload-chunk",
			Request: req,
			State:   chunkState{offset: offset},
			Done: func(err error) {
				if err == nil {
					p.logger.Debug("uploaded chunk",
						slog.Int64("offset", offset),
						slog.Int64("length", length),
						slog.Int64("total", size),
					)
				}
			},
			Release: func(st chunkState) { finished = st.item },
		}
		op.On(http.StatusAccepted, rest.Succeed(func(*rest.Operation[chunkState], *rest.Response) error { return nil }))

		final := rest.Succeed(func(op *rest.Operation[chunkState], resp *rest.Response) error {
			item, decErr := decodeItem(resp)
			op.State.item = item

			return decErr
		})
		op.On(http.StatusOK, final).On(http.StatusCreated, final)

		if err := rest.Execute(ctx, p.engine, op); err != nil {
			return nil, err
		}

		if finished != nil {
			return finished, nil
		}
	}

	return nil, ErrUploadIncomplete
}
