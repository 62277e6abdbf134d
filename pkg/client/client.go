// Package client provides a Go SDK for the statusd read-only API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client communicates with a statusd server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new statusd client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TaskRef identifies one task on the server. Database is optional; the
// server default applies when it is empty.
type TaskRef struct {
	Campaign string
	Block    int
	Task     string
	Database string
}

func (ref TaskRef) path() string {
	return fmt.Sprintf("/api/v1/campaigns/%s/blocks/%d/tasks/%s",
		url.PathEscape(ref.Campaign), ref.Block, url.PathEscape(ref.Task))
}

// Point is one status event of a job as reported by the server.
type Point struct {
	Tags   map[string]string      `json:"tags"`
	Time   time.Time              `json:"time"`
	Fields map[string]interface{} `json:"fields"`
}

// RetriesResponse reports how many times a job has been marked failed.
type RetriesResponse struct {
	JobID   string `json:"job_id"`
	Retries int    `json:"retries"`
}

// CompletionResponse reports whether a task finished and when.
type CompletionResponse struct {
	Completed bool       `json:"completed"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Jobs returns the job ids of a task grouped by their current status.
func (c *Client) Jobs(ctx context.Context, ref TaskRef) (map[string][]string, error) {
	var buckets map[string][]string
	if err := c.get(ctx, ref, ref.path()+"/jobs", nil, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// Job returns the point history of one job, or only its most recent point
// when last is set.
func (c *Client) Job(ctx context.Context, ref TaskRef, id string, last bool) ([]Point, error) {
	query := url.Values{}
	if last {
		query.Set("last", "true")
	}

	var points []Point
	if err := c.get(ctx, ref, ref.path()+"/jobs/"+url.PathEscape(id), query, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// Retries returns the number of times a job has been marked failed.
func (c *Client) Retries(ctx context.Context, ref TaskRef, id string) (int, error) {
	var resp RetriesResponse
	if err := c.get(ctx, ref, ref.path()+"/jobs/"+url.PathEscape(id)+"/retries", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Retries, nil
}

// Completed reports whether every job of the task is done, with the
// completion timestamp when it is.
func (c *Client) Completed(ctx context.Context, ref TaskRef) (*CompletionResponse, error) {
	var resp CompletionResponse
	if err := c.get(ctx, ref, ref.path()+"/completed", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, ref TaskRef, path string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	if ref.Database != "" {
		query.Set("db", ref.Database)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
