package clickup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/RomanSlack/Download-All-Images-from-Clickup/internal/ratelimit"
)

// DefaultBaseURL is the production ClickUp API endpoint.
const DefaultBaseURL = "https://api.clickup.com/api/v2"

// Common errors.
var (
	ErrUnauthorized = errors.New("clickup: unauthorized")
	ErrForbidden    = errors.New("clickup: access forbidden")
	ErrNotFound     = errors.New("clickup: resource not found")
	ErrServerError  = errors.New("clickup: server error")
)

// StatusError is returned for any non-2xx response. It matches the
// package sentinels through errors.Is, so callers can classify without
// caring about the concrete type.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("clickup: unexpected status: %s", e.Status)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrServerError:
		return e.Code >= 500
	}
	return false
}

// Transient reports whether err is worth retrying: server-side 5xx
// responses and transport-level failures. Every other API error
// (403, 404, bad metadata) is permanent for the item that caused it.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	// Not a status error: network failure, timeout, connection reset.
	return true
}

// Options configures the API client.
type Options struct {
	// Token is the personal API token sent as the Authorization header.
	Token string

	// BaseURL overrides the API endpoint (used by tests).
	// Default: DefaultBaseURL
	BaseURL string

	// Timeout is the per-request budget, covering the body read.
	// Default: 30s
	Timeout time.Duration

	// Limiter gates every outbound request. Required: the client is the
	// single choke point for the global rate budget.
	Limiter *ratelimit.Limiter
}

// Client is a thin ClickUp API client. It performs exactly one HTTP
// request per call and classifies failures through typed errors;
// retrying is the caller's concern (see the retry package).
type Client struct {
	httpc   *http.Client
	base    string
	token   string
	limiter *ratelimit.Limiter
}

// NewClient creates an API client with the given options.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultPerMinute)
	}

	return &Client{
		httpc: &http.Client{
			Timeout: opts.Timeout,
		},
		base:    opts.BaseURL,
		token:   opts.Token,
		limiter: limiter,
	}
}

// Teams lists the workspaces visible to the token.
func (c *Client) Teams(ctx context.Context) ([]Team, error) {
	var resp teamsResponse
	if err := c.getJSON(ctx, "/team", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Teams, nil
}

// Spaces lists the spaces of a workspace.
func (c *Client) Spaces(ctx context.Context, teamID string) ([]Space, error) {
	var resp spacesResponse
	if err := c.getJSON(ctx, "/team/"+teamID+"/space", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Spaces, nil
}

// Lists returns all lists of a space: the folderless ones plus the
// lists inside each folder.
func (c *Client) Lists(ctx context.Context, spaceID string) ([]List, error) {
	var direct listsResponse
	if err := c.getJSON(ctx, "/space/"+spaceID+"/list", nil, &direct); err != nil {
		return nil, err
	}

	var foldered foldersResponse
	if err := c.getJSON(ctx, "/space/"+spaceID+"/folder", nil, &foldered); err != nil {
		return nil, err
	}

	lists := direct.Lists
	for _, f := range foldered.Folders {
		lists = append(lists, f.Lists...)
	}
	return lists, nil
}

// Tasks fetches one page of a list's tasks. Closed tasks are included.
// Pages start at 0.
func (c *Client) Tasks(ctx context.Context, listID string, page int) (*TaskPage, error) {
	query := url.Values{
		"page":           {fmt.Sprint(page)},
		"include_closed": {"true"},
	}
	var resp TaskPage
	if err := c.getJSON(ctx, "/list/"+listID+"/task", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task fetches the full detail of one task, including attachment
// metadata.
func (c *Client) Task(ctx context.Context, taskID string) (*TaskDetail, error) {
	var resp TaskDetail
	if err := c.getJSON(ctx, "/task/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchResponse is an open attachment byte stream. The caller owns Body
// and must close it.
type FetchResponse struct {
	Body io.ReadCloser
	// ContentLength is the size declared by the server, or -1 if
	// unknown.
	ContentLength int64
}

// Fetch opens the byte stream of an attachment URL. Like every other
// call it first acquires a rate limiter token.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*FetchResponse, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return &FetchResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
	}, nil
}

// getJSON performs a rate-limited GET against the API and decodes the
// JSON response into v.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
