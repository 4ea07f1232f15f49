package mastodon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"

	"github.com/blindodon/mastodon-core/internal/remote"
)

// UploadMedia uploads a local file via /api/v2/media. The file is checked
// before any request is made. Attachments the instance is still processing
// (202 Accepted, no url yet) come back with type "unknown".
func (c *Client) UploadMedia(ctx context.Context, req remote.MediaUploadRequest) (*remote.MediaAttachment, error) {
	f, err := os.Open(req.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: media file %s", remote.ErrNotFound, req.FilePath)
		}
		return nil, fmt.Errorf("open media file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat media file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("media file %s is a directory", req.FilePath)
	}

	// Stream the multipart body so large videos are never held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMediaForm(mw, f, req))
	}()

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v2/media", nil, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var att remote.MediaAttachment
	if err := c.do(httpReq, &att); err != nil {
		pr.Close()
		return nil, err
	}
	if att.Type == "" || att.URL == "" {
		att.Type = remote.MediaUnknown
	}
	return &att, nil
}

func writeMediaForm(mw *multipart.Writer, f *os.File, req remote.MediaUploadRequest) error {
	name := filepath.Base(req.FilePath)
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", ctype)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read media file: %w", err)
	}

	if req.Description != nil && *req.Description != "" {
		if err := mw.WriteField("description", *req.Description); err != nil {
			return err
		}
	}
	if req.Focus != nil {
		focus := strconv.FormatFloat(req.Focus.X, 'f', -1, 64) + "," + strconv.FormatFloat(req.Focus.Y, 'f', -1, 64)
		if err := mw.WriteField("focus", focus); err != nil {
			return err
		}
	}
	return mw.Close()
}
