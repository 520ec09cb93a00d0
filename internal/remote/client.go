// Package remote provides the HTTP client for the sprout sync API.
// Records cross the wire as flat JSON field sets; event payloads pass
// through as raw JSON, never decoded.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Child is a child profile as exchanged with the sync API.
type Child struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Birthdate string  `json:"birthdate"`
	Sex       *string `json:"sex"`
	AvatarURL *string `json:"avatar_url"`
	CreatedBy string  `json:"created_by"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// Event is a care event as exchanged with the sync API. Events are
// immutable once created, so there is no updated_at on the wire.
type Event struct {
	ID             string          `json:"id"`
	ChildID        string          `json:"child_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Visibility     string          `json:"visibility"`
	OrganizationID *string         `json:"organization_id"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
}

// APIError is a non-2xx response from the sync API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sync API error: status %d - %s", e.StatusCode, e.Message)
}

// Client talks to the sprout sync API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a sync API client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request with authentication and returns the response.
func (c *Client) doRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// apiError drains the response body into an APIError.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}

// UpsertChild creates or updates a child profile, keyed by its
// client-generated id. The call is idempotent and carries the full current
// field set.
func (c *Client) UpsertChild(ctx context.Context, child Child) error {
	payload, err := json.Marshal(child)
	if err != nil {
		return fmt.Errorf("failed to marshal child: %w", err)
	}

	u := fmt.Sprintf("%s/v1/children/%s", c.baseURL, child.ID)
	resp, err := c.doRequest(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	return nil
}

// UpsertEvent uploads a care event keyed by its client-generated id. Events
// are immutable, so the server treats a duplicate id from a retried push as
// a success, not an error.
func (c *Client) UpsertEvent(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	u := fmt.Sprintf("%s/v1/events/%s", c.baseURL, event.ID)
	resp, err := c.doRequest(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	return nil
}

// FetchChildrenSince fetches children with updated_at strictly greater than
// since. A nil since fetches everything.
func (c *Client) FetchChildrenSince(ctx context.Context, since *string) ([]Child, error) {
	var children []Child
	if err := c.fetchSince(ctx, "/v1/children", since, &children); err != nil {
		return nil, err
	}
	return children, nil
}

// FetchEventsSince fetches events with created_at strictly greater than
// since. A nil since fetches everything.
func (c *Client) FetchEventsSince(ctx context.Context, since *string) ([]Event, error) {
	var events []Event
	if err := c.fetchSince(ctx, "/v1/events", since, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) fetchSince(ctx context.Context, path string, since *string, out interface{}) error {
	u := c.baseURL + path
	if since != nil {
		u += "?since=" + url.QueryEscape(*since)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
