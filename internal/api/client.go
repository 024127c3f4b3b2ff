package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/planeplopper/internal/httputil"
	"github.com/banshee-data/planeplopper/internal/plopper"
)

// Client drives a running server from the command line.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewClient returns a client for the server listening on addr.
func NewClient(addr string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{BaseURL: base, HTTP: hc}
}

// APIError is a non-2xx reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) call(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e httputil.ErrorBody
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Place asks the server to place an object at the cursor.
func (c *Client) Place(ctx context.Context) (PlaceResponse, error) {
	var out PlaceResponse
	err := c.call(ctx, http.MethodPost, "/api/place", &out)
	return out, err
}

// RemoveAll asks the server to delete every placed object.
func (c *Client) RemoveAll(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/remove-all", nil)
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (plopper.Status, error) {
	var out plopper.Status
	err := c.call(ctx, http.MethodGet, "/api/status", &out)
	return out, err
}

// Anchors fetches the anchor and object listing.
func (c *Client) Anchors(ctx context.Context) (AnchorsResponse, error) {
	var out AnchorsResponse
	err := c.call(ctx, http.MethodGet, "/api/anchors", &out)
	return out, err
}
