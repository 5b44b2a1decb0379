// Package transfer moves files to and from presigned URLs.
package transfer

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelsos/devicefarm-ci/internal/logger"
)

const contentTypeOctetStream = "application/octet-stream"

// StatusError is returned when a presigned URL answers with anything but 200 OK.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with HTTP %d: %s", e.Method, e.StatusCode, e.Body)
}

// Client performs presigned uploads and downloads.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a transfer client. A nil httpClient gets a default with a generous timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{httpClient: httpClient}
}

func checkURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("unsupported URL scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

func statusError(method string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Method: method, StatusCode: resp.StatusCode, Body: string(body)}
}

// Upload PUTs the file at filePath to a presigned URL.
func (c *Client) Upload(ctx context.Context, presignedURL, filePath string) error {
	if err := checkURL(presignedURL); err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, file)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentTypeOctetStream)

	start := time.Now()
	logger.Debug("Uploading %s (%d KB)", filePath, info.Size()/1024)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload of %s failed: %w", filePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(http.MethodPut, resp)
	}

	logger.Debug("Upload of %s completed in %v", filePath, time.Since(start))
	return nil
}

// Download streams url into dest and returns the SHA512 of the written file.
// The body goes to a temporary file next to dest first, so a failed download
// never leaves a truncated result behind.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (string, error) {
	if err := checkURL(rawURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(http.MethodGet, resp)
	}

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := sha512.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", dest, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	logger.Debug("Downloaded %d bytes to %s (sha512 %s)", written, dest, checksum)
	return checksum, nil
}
