package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPClient uploads files to an HTTP media API (Cloudinary-compatible
// upload endpoint). Responses are expected to carry the hosted URL in
// "secure_url".
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Folder  string

	// HTTPClient may be overridden (tests, custom transports). Nil means a
	// client with a bounded timeout.
	HTTPClient *http.Client
}

const defaultUploadTimeout = 30 * time.Second

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload posts the file at ref as multipart form data and returns the hosted
// URL. The staging file is removed on success and on upload failure alike,
// mirroring the contract that staged uploads never outlive the request.
func (c *HTTPClient) Upload(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrUploadFailed
	}
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return "", fmt.Errorf("%w: no media backend configured", ErrUploadFailed)
	}

	f, err := os.Open(ref)
	if err != nil {
		return "", fmt.Errorf("%w: open staging file: %v", ErrUploadFailed, err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(ref)
	}()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filepath.Base(ref))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("%w: read staging file: %v", ErrUploadFailed, err)
	}
	if c.Folder != "" {
		_ = mw.WriteField("folder", c.Folder)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpc := c.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultUploadTimeout}
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUploadFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Error.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrUploadFailed, out.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}

	hosted := out.SecureURL
	if hosted == "" {
		hosted = out.URL
	}
	if hosted == "" {
		return "", fmt.Errorf("%w: response missing url", ErrUploadFailed)
	}
	return hosted, nil
}
