package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aibridge/aibridge/llm"
	"github.com/aibridge/aibridge/llm/providers"
)

// File purposes accepted by the upload endpoint.
const (
	FilePurposeAssistants = "assistants"
	FilePurposeBatch      = "batch"
	FilePurposeFineTune   = "fine-tune"
	FilePurposeVision     = "vision"
)

// File describes a file stored with the backend.
type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

// UploadFile uploads content under the given filename and purpose.
func (p *Provider) UploadFile(ctx context.Context, filename, purpose string, content io.Reader) (*File, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		if err = mw.WriteField("purpose", purpose); err != nil {
			return
		}
		var part io.Writer
		if part, err = mw.CreateFormFile("file", filename); err != nil {
			return
		}
		if _, err = io.Copy(part, content); err != nil {
			return
		}
		err = mw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.fileURL(""), pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.Cfg.BuildHeaders(req, p.Cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var file File
	if err := p.doJSON(req, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// ListFiles returns the files stored with the backend, optionally filtered by
// purpose.
func (p *Provider) ListFiles(ctx context.Context, purpose string) ([]File, error) {
	url := p.fileURL("")
	if purpose != "" {
		url += "?purpose=" + purpose
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.Cfg.BuildHeaders(req, p.Cfg.APIKey)

	var list struct {
		Data []File `json:"data"`
	}
	if err := p.doJSON(req, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// GetFile fetches the metadata for a stored file.
func (p *Provider) GetFile(ctx context.Context, fileID string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fileURL(fileID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.Cfg.BuildHeaders(req, p.Cfg.APIKey)

	var file File
	if err := p.doJSON(req, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// DownloadFile returns the content of a stored file. The caller must close
// the returned reader.
func (p *Provider) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fileURL(fileID)+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.Cfg.BuildHeaders(req, p.Cfg.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp.Body, nil
}

// DeleteFile removes a stored file.
func (p *Provider) DeleteFile(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.fileURL(fileID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	p.Cfg.BuildHeaders(req, p.Cfg.APIKey)

	var result struct {
		Deleted bool `json:"deleted"`
	}
	if err := p.doJSON(req, &result); err != nil {
		return err
	}
	if !result.Deleted {
		return &llm.Error{
			Code:     llm.ErrUpstreamError,
			Message:  fmt.Sprintf("file %s was not deleted", fileID),
			Provider: p.Name(),
		}
	}
	return nil
}

func (p *Provider) fileURL(fileID string) string {
	url := strings.TrimRight(p.Cfg.BaseURL, "/") + "/v1/files"
	if fileID != "" {
		url += "/" + fileID
	}
	return url
}

func (p *Provider) doJSON(req *http.Request, out any) error {
	resp, err := p.Client.Do(req)
	if err != nil {
		return &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	return nil
}
