// Package apiclient is the HTTP client for the Polymath backend.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"polymath/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the Polymath backend.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new backend client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConnectivityError reports whether err looks like an offline condition
// (dial failure, timeout) rather than a server rejection. Offline failures
// route to the durable queue; rejections surface to the user.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// --- Response types ---

// TranscriptionResponse is the result of a capture upload.
type TranscriptionResponse struct {
	CaptureID string `json:"capture_id"`
	Text      string `json:"text"`
}

// SuggestionsResponse holds ranked connection candidates for an item.
type SuggestionsResponse struct {
	Suggestions []models.Suggestion `json:"suggestions"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// --- Capture upload ---

// UploadCapture POSTs an audio payload as multipart form data and returns
// the transcription. The audio goes in the "audio" file field; metadata
// travels as ordinary form fields.
func (c *Client) UploadCapture(ctx context.Context, capture *models.PendingCapture) (*TranscriptionResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", capture.ID)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(capture.Payload); err != nil {
		return nil, fmt.Errorf("write audio payload: %w", err)
	}
	if err := w.WriteField("mime_type", capture.MimeType); err != nil {
		return nil, fmt.Errorf("write mime_type field: %w", err)
	}
	if err := w.WriteField("captured_at", capture.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("write captured_at field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/captures", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.setAuth(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, respBody)
	}

	var out TranscriptionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}

// --- List item methods ---

// CreateListItem creates an item in a list and returns the server record.
func (c *Client) CreateListItem(ctx context.Context, listID, content string) (*models.ListItem, error) {
	body := map[string]string{"content": content}
	var resp models.ListItem
	if err := c.do(ctx, "POST", fmt.Sprintf("/v1/lists/%s/items", listID), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteListItem removes an item from a list.
func (c *Client) DeleteListItem(ctx context.Context, listID, itemID string) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/v1/lists/%s/items/%s", listID, itemID), nil, nil)
}

// ToggleTask flips a task's done state and returns the server record.
func (c *Client) ToggleTask(ctx context.Context, taskID string, done bool) (*models.Task, error) {
	body := map[string]bool{"done": done}
	var resp models.Task
	if err := c.do(ctx, "PATCH", fmt.Sprintf("/v1/tasks/%s", taskID), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Connection methods ---

// CreateConnection links two entities and returns the server record.
func (c *Client) CreateConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	var resp models.Connection
	if err := c.do(ctx, "POST", "/v1/connections", conn, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConnection removes a connection.
func (c *Client) DeleteConnection(ctx context.Context, connID string) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("/v1/connections/%s", connID), nil, nil)
}

// ListConnections fetches the persisted connections for an entity.
func (c *Client) ListConnections(ctx context.Context, itemType models.EntityType, itemID string) ([]models.Connection, error) {
	var resp []models.Connection
	path := fmt.Sprintf("/v1/connections?item_type=%s&item_id=%s", itemType, itemID)
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Suggestions fetches ranked connection candidates for an item. Scores
// outside [0,1] are rejected at the decode boundary.
func (c *Client) Suggestions(ctx context.Context, itemType models.EntityType, itemID string) ([]models.Suggestion, error) {
	var resp SuggestionsResponse
	path := fmt.Sprintf("/v1/suggestions?item_type=%s&item_id=%s", itemType, itemID)
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	for _, s := range resp.Suggestions {
		if s.Score < 0 || s.Score > 1 {
			return nil, fmt.Errorf("suggestion %s/%s: score %v out of range [0,1]", s.TargetType, s.TargetID, s.Score)
		}
	}
	return resp.Suggestions, nil
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client) setAuth(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}
}

// do executes an authenticated JSON request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// decodeError translates a non-2xx response into a typed error, preferring
// the machine-readable {code,message} body when present.
func decodeError(status int, body []byte) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		switch status {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		default:
			return &apiErr
		}
	}
	return fmt.Errorf("HTTP %d: %s", status, string(body))
}
