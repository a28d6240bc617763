package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/docsift/pkg/models"
)

// Sentinel errors for file service failures.
var (
	ErrFilesUnreachable = errors.New("file service unreachable")
	ErrFilesQueryError  = fmt.Errorf("file service query error: %w", models.ErrSubjectRejected)
	ErrFilesTimeout     = errors.New("file service timeout")
)

// Client is the interface for reading documents from the file-management service.
type Client interface {
	Metadata(ctx context.Context, fileID string) (*FileInfo, error)
	Content(ctx context.Context, fileID string, maxBytes int) ([]byte, error)
	Ready(ctx context.Context) error
}

// FileInfo is the metadata the file service reports for one document.
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// HTTPClient implements Client using the file service's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new file service HTTP client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Metadata(ctx context.Context, fileID string) (*FileInfo, error) {
	u := fmt.Sprintf("%s/api/v1/files/%s", c.baseURL, url.PathEscape(fileID))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, fileID); err != nil {
		return nil, err
	}

	var envelope struct {
		Data FileInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding file metadata: %w", err)
	}
	return &envelope.Data, nil
}

// Content returns at most maxBytes of the file body; maxBytes <= 0 reads everything.
func (c *HTTPClient) Content(ctx context.Context, fileID string, maxBytes int) ([]byte, error) {
	u := fmt.Sprintf("%s/api/v1/files/%s/content", c.baseURL, url.PathEscape(fileID))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, fileID); err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, int64(maxBytes))
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classifyError(err)
	}
	return data, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	resp, err := c.get(ctx, c.baseURL+"/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: file service not ready (status %d)", ErrFilesUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, fileID string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: file %s", models.ErrSubjectNotFound, fileID)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrFilesUnreachable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrFilesQueryError, resp.StatusCode)
	}
}

// classifyError maps transport-level errors to sentinel errors. A cancelled context is
// returned as-is so callers can still read its cause.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrFilesTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFilesTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrFilesUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
