// Package meridian provides a Go client for the meridian results API.
package meridian

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to a meridian-server results API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new results API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListBacktests retrieves run headers, most recent first.
func (c *Client) ListBacktests(ctx context.Context) ([]RunHeaderJSON, error) {
	var headers []RunHeaderJSON
	if err := c.get(ctx, "/api/backtests", &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

// GetBacktest retrieves a full run by id, including its trades, signal
// log, and equity curve.
func (c *Client) GetBacktest(ctx context.Context, id string) (*RunJSON, error) {
	var run RunJSON
	if err := c.get(ctx, "/api/backtests/"+id, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("GET %s: %s (status %d)", path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
