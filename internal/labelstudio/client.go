// Package labelstudio is the client for the external annotation tool:
// bulk export of completed annotations, task retirement and storage
// sync. The tool's internal behavior is out of scope; only its HTTP
// boundary is modeled here.
package labelstudio

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default timeout for annotation-tool requests.
	// Exports can be large, so this is generous.
	DefaultTimeout = 60 * time.Second

	// MaxExportSize is the maximum allowed export archive size (100MB).
	MaxExportSize = 100 * 1024 * 1024

	// exportFormat is the tool-native detection format requested for
	// bulk exports.
	exportFormat = "YOLO"

	// labelDir is the archive sub-path holding label files.
	labelDir = "labels/"

	labelExt = ".txt"
)

// Client is the annotation-tool boundary.
type Client interface {
	// Export fetches the bulk export archive for the configured project
	// and returns its label entries.
	Export(ctx context.Context) ([]ExportEntry, error)

	// DeleteTask retires one annotation task. Success is 204; anything
	// else is an *HTTPError.
	DeleteTask(ctx context.Context, taskID int) error

	// SyncStorage asks the tool to pull newly uploaded images from the
	// configured storage. Success is 200; anything else is an *HTTPError.
	SyncStorage(ctx context.Context) error
}

// Options configures the annotation-tool client.
type Options struct {
	BaseURL     string
	APIKey      string
	ProjectID   int
	StorageType string
	StorageID   int
	Timeout     time.Duration
}

type defaultClient struct {
	client *http.Client
	opts   Options
}

// NewClient creates an annotation-tool client.
func NewClient(opts Options) Client {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	return &defaultClient{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

func (c *defaultClient) Export(ctx context.Context) ([]ExportEntry, error) {
	url := fmt.Sprintf("%s/api/projects/%d/export?exportType=%s", c.opts.BaseURL, c.opts.ProjectID, exportFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create export request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch export: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, NewHTTPError(resp.StatusCode, url, readBodyText(resp.Body))
	}

	archive, err := io.ReadAll(io.LimitReader(resp.Body, MaxExportSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read export body: %w", err)
	}
	if int64(len(archive)) > MaxExportSize {
		return nil, fmt.Errorf("export size exceeds maximum allowed size of %d bytes", MaxExportSize)
	}

	return parseExportArchive(archive)
}

// parseExportArchive extracts label entries from the export zip. Only
// entries under the labels directory with the label extension are
// returned; images and manifest files in the archive are ignored.
func parseExportArchive(archive []byte) ([]ExportEntry, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("failed to open export archive: %w", err)
	}

	var entries []ExportEntry
	for _, file := range reader.File {
		if !strings.HasPrefix(file.Name, labelDir) || !strings.HasSuffix(file.Name, labelExt) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open export entry %s: %w", file.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read export entry %s: %w", file.Name, err)
		}

		entries = append(entries, ExportEntry{
			Name:    path.Base(file.Name),
			Content: content,
		})
	}
	return entries, nil
}

func (c *defaultClient) DeleteTask(ctx context.Context, taskID int) error {
	url := fmt.Sprintf("%s/api/tasks/%d", c.opts.BaseURL, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create task deletion request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", taskID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusNoContent {
		return NewHTTPError(resp.StatusCode, url, readBodyText(resp.Body))
	}
	return nil
}

func (c *defaultClient) SyncStorage(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/storages/%s/%d/sync", c.opts.BaseURL, c.opts.StorageType, c.opts.StorageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create storage sync request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to trigger storage sync: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return NewHTTPError(resp.StatusCode, url, readBodyText(resp.Body))
	}
	return nil
}

func (c *defaultClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Token "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// readBodyText returns a bounded snippet of a response body for error
// messages.
func readBodyText(r io.Reader) string {
	const maxErrBody = 4096
	body, err := io.ReadAll(io.LimitReader(r, maxErrBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
