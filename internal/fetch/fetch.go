// Package fetch is the engine's network boundary: plain cancellable HTTP
// GETs for fragment payloads and a streaming GET for the live tail.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"vidplay/internal/logger"
	"vidplay/internal/models"
)

// Client issues the engine's HTTP requests. All requests honor their
// context and every response body is released on every exit path.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
}

// NewClient creates a client with a transport tuned for media origins:
// response headers must arrive promptly even when bodies stream for a long
// time.
func NewClient(log logger.Logger, userAgent string) *Client {
	transport := &http.Transport{
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		logger:     log,
		userAgent:  userAgent,
	}
}

// CloseIdleConnections releases kept-alive connections. Sessions call it
// on teardown.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Code)
}

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// Segment fetches one segment payload, restricted to the segment's byte
// range when one is declared. An empty body counts as a failure: origins
// that return 200 with no bytes have dropped the request mid-flight.
func (c *Client) Segment(ctx context.Context, data models.SegmentData) ([]byte, error) {
	req, err := c.newRequest(ctx, data.URL)
	if err != nil {
		return nil, err
	}
	if data.ByteRange != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", data.ByteRange.Start, data.ByteRange.End))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch segment %s: %w", data.Key(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, &StatusError{Code: resp.StatusCode, URL: data.URL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading segment %s body: %w", data.Key(), err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("segment %s returned an empty body", data.Key())
	}

	c.logger.Debugf("Fetched segment %s (%d bytes)", data.Key(), len(body))
	return body, nil
}

// Stream is an open live connection. The caller owns it and must Close
// it on every exit path to release the underlying connection.
type Stream struct {
	mimeType string
	body     io.ReadCloser
}

// MimeType returns the media type the origin declared for the stream.
func (s *Stream) MimeType() string { return s.mimeType }

// Read reads the next chunk of the unbounded body.
func (s *Stream) Read(p []byte) (int, error) { return s.body.Read(p) }

// Close releases the connection.
func (s *Stream) Close() error { return s.body.Close() }

// OpenStream issues the live GET and hands back the response body as an
// incrementally consumable stream. Cancelling ctx aborts the body.
func (c *Client) OpenStream(ctx context.Context, url string) (*Stream, error) {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open live stream %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	mime := resp.Header.Get("Content-Type")
	c.logger.Debugf("Opened live stream %s (%s)", url, mime)
	return &Stream{mimeType: mime, body: resp.Body}, nil
}
