// Package gpio reads the host's GPIO pin list over its local HTTP API.
package gpio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultURL is the host's GPIO enumeration endpoint.
const DefaultURL = "http://127.0.0.1/api/gpio"

// Pin is one entry of the host's GPIO list.
type Pin struct {
	Pin  string `json:"pin"`
	GPIO int    `json:"gpio"`
}

// Client talks to the host GPIO endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a Client for the given endpoint URL.
func New(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the HTTP client (for tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// ListPins returns the host's pins ordered by GPIO number.
func (c *Client) ListPins(ctx context.Context) ([]Pin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting GPIO list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GPIO list: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pins []Pin
	if err := json.NewDecoder(resp.Body).Decode(&pins); err != nil {
		return nil, fmt.Errorf("decoding GPIO list: %w", err)
	}
	sort.SliceStable(pins, func(i, j int) bool { return pins[i].GPIO < pins[j].GPIO })
	return pins, nil
}

// IsAvailable returns true if the endpoint answers with 200 within 2 seconds.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
