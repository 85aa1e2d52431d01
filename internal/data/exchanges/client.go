package exchanges

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sawpanic/fundsync/internal/models"
)

// Client is the REST plumbing shared by the venue adapters: request
// construction, status mapping and body decoding. Rate limiting and circuit
// breaking live in the transport (internal/net/client); this layer only
// translates outcomes into the engine's error taxonomy.
type Client struct {
	venue      models.VenueCode
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a venue REST client. A nil transport uses
// http.DefaultTransport.
func NewClient(venue models.VenueCode, baseURL string, transport http.RoundTripper, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		venue:   venue,
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// GetJSON issues a GET to path with the given query and decodes the JSON
// body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	return c.do(req, path, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON response
// into out.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller-initiated cancellation is not a venue failure and must
		// not be retried.
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &models.VenueAPIError{Venue: c.venue, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &models.VenueAPIError{Venue: c.venue, Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &models.VenueAPIError{
			Venue:      c.venue,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", truncate(data, 256)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &models.VenueAPIError{
			Venue: c.venue,
			Op:    op,
			Err:   fmt.Errorf("failed to decode response: %w", err),
		}
	}

	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
