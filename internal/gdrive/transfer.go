package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// chunkAlignment is the granularity resumable chunks must respect.
const chunkAlignment = 256 * 1024

const uploadChunkSize = 8 * chunkAlignment

// statusResumeIncomplete is the reply to a non-final resumable chunk.
const statusResumeIncomplete = http.StatusPermanentRedirect

// DownloadFile writes file's content to localPath.
func (p *Provider) DownloadFile(ctx context.Context, file *cloud.Item, localPath string) error {
	if file.IsFolder() {
		return p.opError("DownloadFile", file.Name, fmt.Errorf("%w: cannot download a folder", cloud.ErrInvalidTree))
	}

	req := rest.NewRequest(http.MethodGet, p.filesURL("/"+url.PathEscape(file.ID)))
	req.Params = url.Values{"alt": {"media"}}
	req.ResponseFile = localPath

	op, err := authorized[struct{}](ctx, p, "download", req)
	if err != nil {
		return p.opError("DownloadFile", file.Name, err)
	}

	op.On(http.StatusOK, rest.Succeed(func(*rest.Operation[struct{}], *rest.Response) error { return nil }))

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return p.opError("DownloadFile", file.Name, err)
	}

	return nil
}

// UploadFile writes localPath into dir through a resumable session. A new
// file is created with POST under dir; an existing one is updated with
// PATCH by id.
func (p *Provider) UploadFile(ctx context.Context, dir, file *cloud.Item, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return p.opError("UploadFile", file.Name, fmt.Errorf("gdrive: stat %s: %w", localPath, err))
	}

	size := info.Size()

	sessionURL, err := p.startUpload(ctx, dir, file, size)
	if err != nil {
		return p.opError("UploadFile", file.Name, err)
	}

	uploaded, err := p.sendChunks(ctx, sessionURL, localPath, size)
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

func (p *Provider) startUpload(ctx context.Context, dir, file *cloud.Item, size int64) (string, error) {
	meta := &drive.File{Name: file.Name}

	var req *rest.Request

	if file.ID != "" {
		req = rest.NewRequest(http.MethodPatch, p.uploadURL("/"+url.PathEscape(file.ID)))
	} else {
		req = rest.NewRequest(http.MethodPost, p.uploadURL(""))
		meta.Parents = []string{dir.ID}
	}

	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("gdrive: marshaling upload metadata: %w", err)
	}

	req.Params = url.Values{"uploadType": {"resumable"}, "fields": {itemFields}}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "application/octet-stream")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	req.Body = body

	op, err := authorized[string](ctx, p, "upload-start", req)
	if err != nil {
		return "", err
	}

	started := rest.Succeed(func(op *rest.Operation[string], resp *rest.Response) error {
		op.State = resp.Header.Get("Location")
		if op.State == "" {
			return ErrNoUploadSession
		}

		return nil
	})
	op.On(http.StatusOK, started).On(http.StatusCreated, started)

	if err := rest.Execute(ctx, p.engine, op); err != nil {
		return "", err
	}

	return op.State, nil
}

type chunkState struct {
	item *cloud.Item
}

// sendChunks PUTs the file to the session URL. 308 asks for the next chunk;
// 200 or 201 carries the finished file.
func (p *Provider) sendChunks(ctx context.Context, sessionURL, localPath string, size int64) (*cloud.Item, error) {
	offset := int64(0)

	for {
		length := min(p.chunkSize, size-offset)

		req := rest.NewRequest(http.MethodPut, sessionURL)
		if size > 0 {
			req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, size))
		}

		req.BodyFile = &rest.FileSection{Path: localPath, Offset: offset, Length: length}

		op := &rest.Operation[chunkState]{Name: "upload-chunk", Request: req}
		op.On(statusResumeIncomplete, rest.Succeed(func(*rest.Operation[chunkState], *rest.Response) error { return nil }))

		final := rest.Succeed(func(op *rest.Operation[chunkState], resp *rest.Response) error {
			var f drive.File
			if err := rest.DecodeJSON(resp, &f); err != nil {
				return err
			}

			op.State.item = toItem(&f, time.Now())
			if op.State.item == nil {
				return fmt.Errorf("gdrive: upload reply without id or name: %w", cloud.ErrParse)
			}

			return nil
		})
		op.On(http.StatusOK, final).On(http.StatusCreated, final)

		if err := rest.Execute(ctx, p.engine, op); err != nil {
			return nil, err
		}

		if op.State.item != nil {
			return op.State.item, nil
		}

		offset += length
		if offset >= size {
			return nil, fmt.Errorf("gdrive: session still incomplete after %d bytes: %w", size, cloud.ErrHTTPStatus)
		}
	}
}
