// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/samber/oops"
)

// DefaultClientTimeout bounds every control request.
const DefaultClientTimeout = 30 * time.Second

// Client talks to a control socket.
type Client struct {
	socketPath string
	http       *http.Client
}

// NewClient creates a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http:       createUnixHTTPClient(socketPath, DefaultClientTimeout),
	}
}

// createUnixHTTPClient creates an HTTP client that connects via Unix socket.
func createUnixHTTPClient(socketPath string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: timeout,
	}
}

// Health queries /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Status queries /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &resp)
	return resp, err
}

// Plugins queries /plugins.
func (c *Client) Plugins(ctx context.Context) (PluginsResponse, error) {
	var resp PluginsResponse
	err := c.do(ctx, http.MethodGet, "/plugins", nil, &resp)
	return resp, err
}

// Console runs line on the server. A failed command returns the output
// written so far together with an error carrying the command's code.
func (c *Client) Console(ctx context.Context, line string) (string, error) {
	var resp ConsoleResponse
	if err := c.do(ctx, http.MethodPost, "/console", ConsoleRequest{Line: line}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		errb := oops.In("control").With("line", line)
		if resp.Code != "" {
			errb = errb.Code(resp.Code)
		}
		return resp.Output, errb.Errorf("%s", resp.Error)
	}
	return resp.Output, nil
}

// Shutdown asks the server process to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	var resp ShutdownResponse
	return c.do(ctx, http.MethodPost, "/shutdown", nil, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	errb := oops.In("control").With("socket", c.socketPath).With("path", path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errb.Wrapf(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reader)
	if err != nil {
		return errb.Wrapf(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errb.Wrapf(err, "failed to connect")
	}
	defer func() { _ = resp.Body.Close() }()

	// The console reports command failures with 422 and a JSON body.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errb.With("status", resp.StatusCode).Errorf("%s", bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errb.Wrapf(err, "failed to decode response")
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
