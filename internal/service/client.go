// Package service talks to the enrollment backend over HTTP/JSON. Client
// implements the enrollment, conversation and transcription ports used by
// the session controller, plus the profile and verification calls.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// Client is an enrollment backend client
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client for baseURL. timeout bounds each request; zero
// leaves request lifetime to the caller's context.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    newHTTPClient(timeout),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		c.HTTP = newHTTPClient(60 * time.Second)
	}
	return c.HTTP
}

// postJSON sends in as JSON and decodes the response into out
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	req.Header.Set("Accept", "application/json")
	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res, endpoint)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// decodeError turns a non-2xx response into an *internal.APIError, taking
// the message from a {"detail": ...} body when present
func decodeError(res *http.Response, endpoint string) error {
	data, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	apiErr := &internal.APIError{Endpoint: endpoint, StatusCode: res.StatusCode}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(body.Detail)
		}
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(data))
	return apiErr
}
