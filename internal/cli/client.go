package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is an HTTP client for the docsift API.
type Client struct {
	http    *resty.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a docsift API client. Every request except streams is bounded by timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	return &Client{http: rc, timeout: timeout, logger: logger}
}

// PageMeta is the pagination block of a collection response.
type PageMeta struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// apiResponse is the parsed envelope.
type apiResponse struct {
	Status int             `json:"-"`
	Data   json.RawMessage `json:"data"`
	Meta   *PageMeta       `json:"meta"`
	Error  *APIError       `json:"error"`
}

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*apiResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	c.logger.Debug("HTTP request", "method", method, "path", path, "query", query.Encode())

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.logger.Debug("HTTP response", "status", resp.StatusCode(), "body", resp.String())

	apiResp := &apiResponse{Status: resp.StatusCode()}
	if err := json.Unmarshal(resp.Body(), apiResp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w\nbody: %s", resp.StatusCode(), err, resp.String())
	}

	if apiResp.Error != nil {
		apiResp.Error.Status = resp.StatusCode()
		return apiResp, apiResp.Error
	}
	if !resp.IsSuccess() {
		return apiResp, &APIError{Status: resp.StatusCode(), Code: "HTTP_ERROR", Message: resp.Status()}
	}
	return apiResp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*apiResponse, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*apiResponse, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

// errStopStream is returned by a Stream callback to end the stream without error.
var errStopStream = errors.New("stop stream")

// StreamEvent is one server-sent event.
type StreamEvent struct {
	Name string
	Data string
}

// Stream reads server-sent events from path and calls fn for each one until the server
// closes the stream, ctx is done, or fn returns an error. errStopStream ends it cleanly.
func (c *Client) Stream(ctx context.Context, path string, query url.Values, fn func(StreamEvent) error) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true)
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		var env apiResponse
		if err := json.NewDecoder(body).Decode(&env); err == nil && env.Error != nil {
			env.Error.Status = resp.StatusCode()
			return env.Error
		}
		return &APIError{Status: resp.StatusCode(), Code: "HTTP_ERROR", Message: resp.Status()}
	}

	var ev StreamEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.Data != "" {
				if err := fn(ev); err != nil {
					if errors.Is(err, errStopStream) {
						return nil
					}
					return err
				}
			}
			ev = StreamEvent{}
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
