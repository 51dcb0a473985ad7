package kaltura

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bitrise-io/go-utils/retry"

	"github.com/kalturaops/kaltura-uploader/upload"
)

// statusFullUpload is KalturaUploadTokenStatus.FULL_UPLOAD: every byte of
// the declared file size has been received.
const statusFullUpload = 3

// UploadToken is the server-side state of one resumable upload stream.
type UploadToken struct {
	ID               string  `json:"id"`
	FileName         string  `json:"fileName"`
	FileSize         int64   `json:"fileSize"`
	UploadedFileSize float64 `json:"uploadedFileSize"`
	Status           int     `json:"status"`
}

var _ upload.Transport = (*Client)(nil)

// AcquireToken registers a new upload token for the given file.
func (c *Client) AcquireToken(ctx context.Context, fileName string, fileSize int64) (upload.Token, error) {
	params := url.Values{}
	params.Set("uploadToken:objectType", "KalturaUploadToken")
	params.Set("uploadToken:fileName", fileName)
	params.Set("uploadToken:fileSize", strconv.FormatInt(fileSize, 10))

	var token UploadToken
	if err := c.call(ctx, "uploadtoken", "add", params, &token); err != nil {
		return upload.Token{}, err
	}
	if token.ID == "" {
		return upload.Token{}, fmt.Errorf("upload token response carried no id")
	}

	c.logger.Debugf("Acquired upload token %s for %s (%d bytes)", token.ID, fileName, fileSize)
	return upload.Token{ID: token.ID}, nil
}

// SendChunk appends one chunk to the token's stream. Every attempt gets its
// own deadline; retry scheduling is the caller's concern.
func (c *Client) SendChunk(ctx context.Context, req upload.ChunkRequest) error {
	body, contentType, err := chunkBody(req)
	if err != nil {
		return fmt.Errorf("build chunk body: %w", err)
	}

	query := url.Values{}
	query.Set("format", "1")
	query.Set("uploadTokenId", req.Token.ID)
	query.Set("ks", c.ks)
	endpoint := c.serviceURL + uploadTokenUploadPath + "?" + query.Encode()

	attemptCtx, cancel := context.WithTimeout(ctx, c.chunkTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create chunk request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.chunkClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// The session context ended; don't mask it as a transport hiccup.
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &transportError{err: fmt.Errorf("chunk attempt exceeded %s deadline", c.chunkTimeout)}
		}
		return &transportError{err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warnf("close chunk response body: %s", err)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &transportError{err: fmt.Errorf("read chunk response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: scrubKS(string(payload))}
	}
	if apiErr := parseAPIError(payload); apiErr != nil {
		return apiErr
	}

	c.logger.Debugf("Appended %d bytes at offset %d to token %s", len(req.Data), req.Offset, req.Token.ID)
	return nil
}

// chunkBody builds the multipart payload for one append. The server keys on
// resume/resumeAt/finalChunk form fields plus a fileData file part.
func chunkBody(req upload.ChunkRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"resume", boolField(req.Resume)},
		{"resumeAt", strconv.FormatInt(req.Offset, 10)},
		{"finalChunk", boolField(req.Final)},
	}
	for _, field := range fields {
		if err := writer.WriteField(field.name, field.value); err != nil {
			return nil, "", err
		}
	}

	part, err := writer.CreateFormFile("fileData", fmt.Sprintf("chunk_%d", req.Offset))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &buf, writer.FormDataContentType(), nil
}

// boolField renders booleans the way the upload endpoint expects them.
func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// GetUploadToken fetches the current server-side state of a token.
func (c *Client) GetUploadToken(ctx context.Context, tokenID string) (UploadToken, error) {
	params := url.Values{}
	params.Set("uploadTokenId", tokenID)

	var token UploadToken
	if err := c.call(ctx, "uploadtoken", "get", params, &token); err != nil {
		return UploadToken{}, err
	}
	return token, nil
}

// ConfirmFinalized polls the token until the service reports FULL_UPLOAD.
// Closing a large stream can take the backend a few seconds to settle.
func (c *Client) ConfirmFinalized(ctx context.Context, token upload.Token, fileSize int64) error {
	var lastStatus int
	// retry.Times counts retries after the first try, so subtract one to
	// make finalizeTries the total number of polls.
	err := retry.Times(c.finalizeTries - 1).Wait(c.finalizeWait).TryWithAbort(func(attempt uint) (error, bool) {
		if err := ctx.Err(); err != nil {
			return err, true
		}
		state, err := c.GetUploadToken(ctx, token.ID)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Transient() {
				return err, true
			}
			if attempt > 0 {
				c.logger.Warnf("Upload token %s status check failed, retrying: %s", token.ID, err)
			}
			return err, false
		}
		lastStatus = state.Status
		if state.Status != statusFullUpload {
			return fmt.Errorf("upload token %s has status %d, want %d", token.ID, state.Status, statusFullUpload), false
		}
		c.logger.Debugf("Upload token %s confirmed: %.0f/%d bytes", token.ID, state.UploadedFileSize, fileSize)
		return nil, false
	})
	if err != nil {
		return fmt.Errorf("upload token %s never reached full-upload status (last status %d): %w", token.ID, lastStatus, err)
	}
	return nil
}
