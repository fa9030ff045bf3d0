package http

import (
	"context"
	"net/http"
	"time"
)

// Client is a thin wrapper that stamps default headers on every outgoing request.
type Client struct {
	httpClient *http.Client
	headers    http.Header
}

func NewClient(timeout time.Duration, headers map[string]string) *Client {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		if v != "" {
			h.Set(k, v)
		}
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: h,
	}
}

// Headers returns a copy of the default headers, e.g. for a websocket dial.
func (c *Client) Headers() http.Header {
	return c.headers.Clone()
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, vs := range c.headers {
		if req.Header.Get(k) == "" {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	return c.httpClient.Do(req)
}

func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.Do(req.WithContext(ctx))
}
