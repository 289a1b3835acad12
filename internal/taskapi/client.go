// Package taskapi is the client for the hosted task platform API. It covers
// the account-scoped resources the CLI needs for workspace selection:
// organizations and their briefs.
package taskapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	// apiPathPrefix is appended to the platform base domain when no explicit
	// endpoint is configured.
	apiPathPrefix = "/api/v1"

	requestIDHeader = "X-Request-Id"

	userAgent = "taskmaster-cli"

	httpTimeout = 30 * time.Second
)

// TokenSource supplies the bearer token for API requests. Implementations
// are expected to refresh expired tokens transparently.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token, for
// pre-provisioned API tokens.
type StaticToken string

// AccessToken implements TokenSource.
func (t StaticToken) AccessToken(context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("empty API token")
	}
	return string(t), nil
}

// APIError is a non-2xx response from the platform API.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("task API returned %d: %s", e.StatusCode, e.Message)
}

// Organization is a tenant on the platform.
type Organization struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Brief is a scoped work package inside an organization. Task storage is
// pinned to a brief when one is selected.
type Brief struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Task is one unit of work inside a brief.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Status       string   `json:"status,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Client calls the platform API. All requests carry a bearer token from the
// token source and a generated request id for server-side correlation.
type Client struct {
	rest *resty.Client
}

// NewClient creates a platform API client rooted at the given endpoint.
func NewClient(endpoint string, source TokenSource) *Client {
	rest := resty.New().
		SetBaseURL(strings.TrimSuffix(endpoint, "/")).
		SetTimeout(httpTimeout).
		SetHeader("User-Agent", userAgent)

	rest.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader(requestIDHeader, uuid.NewString())
		if source == nil {
			return nil
		}
		token, err := source.AccessToken(req.Context())
		if err != nil {
			return fmt.Errorf("resolving API token: %w", err)
		}
		req.SetAuthToken(token)
		return nil
	})

	return &Client{rest: rest}
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.rest.BaseURL
}

// ListOrganizations returns the organizations the authenticated account
// belongs to.
func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var orgs []Organization
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&orgs).
		SetError(&APIError{}).
		Get("/organizations")
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	if err := ResponseError(resp); err != nil {
		return nil, err
	}
	return orgs, nil
}

// ListBriefs returns the briefs of an organization.
func (c *Client) ListBriefs(ctx context.Context, orgID string) ([]Brief, error) {
	if orgID == "" {
		return nil, fmt.Errorf("missing organization id")
	}

	var briefs []Brief
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("orgID", orgID).
		SetResult(&briefs).
		SetError(&APIError{}).
		Get("/organizations/{orgID}/briefs")
	if err != nil {
		return nil, fmt.Errorf("listing briefs: %w", err)
	}
	if err := ResponseError(resp); err != nil {
		return nil, err
	}
	return briefs, nil
}

// GetBrief fetches a single brief.
func (c *Client) GetBrief(ctx context.Context, briefID string) (*Brief, error) {
	if briefID == "" {
		return nil, fmt.Errorf("missing brief id")
	}

	var brief Brief
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("briefID", briefID).
		SetResult(&brief).
		SetError(&APIError{}).
		Get("/briefs/{briefID}")
	if err != nil {
		return nil, fmt.Errorf("fetching brief: %w", err)
	}
	if err := ResponseError(resp); err != nil {
		return nil, err
	}
	return &brief, nil
}

// ListBriefTasks returns the tasks of a brief.
func (c *Client) ListBriefTasks(ctx context.Context, briefID string) ([]Task, error) {
	if briefID == "" {
		return nil, fmt.Errorf("missing brief id")
	}

	var tasks []Task
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("briefID", briefID).
		SetResult(&tasks).
		SetError(&APIError{}).
		Get("/briefs/{briefID}/tasks")
	if err != nil {
		return nil, fmt.Errorf("listing brief tasks: %w", err)
	}
	if err := ResponseError(resp); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ResponseError converts a non-2xx resty response into an *APIError. The
// request must have been prepared with SetError(&APIError{}).
func ResponseError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}

	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	return apiErr
}

// DefaultEndpoint derives the platform API endpoint from a base domain,
// e.g. "taskmaster.dev" becomes "https://taskmaster.dev/api/v1". Loopback
// domains get plain http so local development servers work without TLS.
func DefaultEndpoint(baseDomain string) string {
	scheme := "https"
	if isLoopback(baseDomain) {
		scheme = "http"
	}
	return scheme + "://" + baseDomain + apiPathPrefix
}

// isLoopback reports whether the domain (optionally with a port) points at
// the local machine.
func isLoopback(domain string) bool {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
