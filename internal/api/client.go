// Package api is a typed client for the Syncthing REST API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	apiKeyHeader = "X-API-Key"

	// DefaultRequestTimeout bounds calls whose context carries no deadline.
	DefaultRequestTimeout = 30 * time.Second
)

// StatusError is returned when Syncthing answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, body)
}

// Client talks to one Syncthing instance. The address and API key can be
// changed between requests with SetConnection.
type Client struct {
	// rest serves reads and retries them. actions sends state-changing
	// POSTs exactly once, since a lost response does not mean Syncthing
	// ignored the request.
	rest    *resty.Client
	actions *resty.Client

	mu      sync.RWMutex
	address string
	apiKey  string
}

// NewClient returns a client for the instance listening on address.
// GET requests that fail at the transport level are retried retries times;
// POST requests are never retried.
func NewClient(address, apiKey string, retries int) *Client {
	c := &Client{
		rest:    newRestClient(retries),
		actions: newRestClient(0),
	}
	c.SetConnection(address, apiKey)
	return c
}

func newRestClient(retries int) *resty.Client {
	return resty.New().
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")
}

// SetConnection points the client at a new address and API key. An address
// without a scheme is taken to be plain http.
func (c *Client) SetConnection(address, apiKey string) {
	address = strings.TrimRight(address, "/")
	if address != "" && !strings.Contains(address, "://") {
		address = "http://" + address
	}
	c.mu.Lock()
	c.address = address
	c.apiKey = apiKey
	c.mu.Unlock()
}

// Address returns the base URL requests are sent to.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

func (c *Client) request(ctx context.Context, rest *resty.Client) (*resty.Request, string) {
	c.mu.RLock()
	address, apiKey := c.address, c.apiKey
	c.mu.RUnlock()

	return rest.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, apiKey), address
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultRequestTimeout)
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, address := c.request(ctx, c.rest)
	resp, err := req.SetQueryParams(query).SetResult(out).Get(address + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		return &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, query map[string]string) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	req, address := c.request(ctx, c.actions)
	resp, err := req.SetQueryParams(query).Post(address + path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.IsError() {
		return &StatusError{Method: http.MethodPost, Path: path, Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

func (c *Client) Config(ctx context.Context) (*Config, error) {
	var out Config
	if err := c.get(ctx, "/rest/system/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var out SystemInfo
	if err := c.get(ctx, "/rest/system/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Version(ctx context.Context) (*Version, error) {
	var out Version
	if err := c.get(ctx, "/rest/system/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Connections(ctx context.Context) (*Connections, error) {
	var out Connections
	if err := c.get(ctx, "/rest/system/connections", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FolderModel(ctx context.Context, folderID string) (*FolderModel, error) {
	var out FolderModel
	if err := c.get(ctx, "/rest/db/status", map[string]string{"folder": folderID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Ignores(ctx context.Context, folderID string) (*Ignores, error) {
	var out Ignores
	if err := c.get(ctx, "/rest/db/ignores", map[string]string{"folder": folderID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scan asks Syncthing to rescan folderID, limited to subPath when it is not
// empty.
func (c *Client) Scan(ctx context.Context, folderID, subPath string) error {
	query := map[string]string{"folder": folderID}
	if subPath != "" {
		query["sub"] = subPath
	}
	return c.post(ctx, "/rest/db/scan", query)
}

func (c *Client) Restart(ctx context.Context) error {
	return c.post(ctx, "/rest/system/restart", nil)
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/rest/system/shutdown", nil)
}

// Events long-polls the event stream for events after since. mask is a
// comma separated list of event type names; empty means all. The request is
// held open for up to timeout by Syncthing, so ctx should allow for that.
func (c *Client) Events(ctx context.Context, since int, mask string, timeout time.Duration) ([]Event, error) {
	query := map[string]string{
		"since":   strconv.Itoa(since),
		"timeout": strconv.Itoa(int(timeout / time.Second)),
	}
	if mask != "" {
		query["events"] = mask
	}

	req, address := c.request(ctx, c.rest)
	var out []Event
	resp, err := req.SetQueryParams(query).SetResult(&out).Get(address + "/rest/events")
	if err != nil {
		return nil, fmt.Errorf("GET /rest/events: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Method: http.MethodGet, Path: "/rest/events", Code: resp.StatusCode(), Body: resp.String()}
	}
	return out, nil
}
