package daemon

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

	"docsync/internal/model"
	"docsync/internal/notify"
)

// ErrUnreachable reports that no control API answers on the port.
var ErrUnreachable = errors.New("daemon not running")

// Client talks to the control API of a running loop.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Timeout bounds queries, ApplyTimeout the changes that wait for the
	// pass in progress. Zero means no limit.
	Timeout      time.Duration
	ApplyTimeout time.Duration
}

func NewClient(port int) *Client {
	return &Client{
		BaseURL:      fmt.Sprintf("http://127.0.0.1:%d", port),
		HTTP:         &http.Client{},
		Timeout:      5 * time.Second,
		ApplyTimeout: 2 * time.Minute,
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	timeout := c.Timeout
	if method != http.MethodGet {
		timeout = c.ApplyTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body.Error)
	}
	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (model.SchedulerStatus, error) {
	var status model.SchedulerStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, &status)
	return status, err
}

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/pause", nil, nil)
}

func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/resume", nil, nil)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil, nil)
}

func (c *Client) History(ctx context.Context, n int) ([]model.History, error) {
	var histories []model.History
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/history?n=%d", n), nil, &histories)
	return histories, err
}

func (c *Client) Notices(ctx context.Context, n int) ([]model.Notice, error) {
	var notices []model.Notice
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/notices?n=%d", n), nil, &notices)
	return notices, err
}

func (c *Client) Events(ctx context.Context) ([]notify.Event, error) {
	var events []notify.Event
	err := c.do(ctx, http.MethodGet, "/events", nil, &events)
	return events, err
}

func (c *Client) SetToken(ctx context.Context, localFolder, token string) error {
	return c.do(ctx, http.MethodPut, "/bindings/token", BindingRequest{LocalFolder: localFolder, Token: token}, nil)
}

func (c *Client) Unbind(ctx context.Context, localFolder string) error {
	return c.do(ctx, http.MethodDelete, "/bindings?local_folder="+url.QueryEscape(localFolder), nil, nil)
}

func (c *Client) BindRoot(ctx context.Context, localFolder, remoteRef string) (*model.RootBinding, error) {
	var root model.RootBinding
	err := c.do(ctx, http.MethodPost, "/roots", BindingRequest{LocalFolder: localFolder, RemoteRef: remoteRef}, &root)
	if err != nil {
		return nil, err
	}
	return &root, nil
}

func (c *Client) UnbindRoot(ctx context.Context, localRoot string) error {
	return c.do(ctx, http.MethodDelete, "/roots?local_root="+url.QueryEscape(localRoot), nil, nil)
}

func (c *Client) RefreshRoots(ctx context.Context, localFolder string) error {
	return c.do(ctx, http.MethodPost, "/roots/refresh", BindingRequest{LocalFolder: localFolder}, nil)
}
