package labelstudio

import "fmt"

// HTTPError represents a non-success response from the annotation tool.
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// ExportEntry is one label file from a completed-annotations export.
// Name is the entry's base name as produced by the tool:
// "{task_id}__{canonical_filename}.txt". Content is the raw
// detection-format body, one bounding box per line.
type ExportEntry struct {
	Name    string
	Content []byte
}
