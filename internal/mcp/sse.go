package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Transport dials an MCP server speaking the HTTP+SSE transport: a GET on
// the SSE URL yields an endpoint event naming the message-post URL, server
// messages stream back as SSE message events.
type Transport struct {
	URL     string
	Headers map[string]string
	// Timeout bounds each message POST.
	Timeout time.Duration
	// SSEReadTimeout is the idle limit on the event stream; the connection
	// is torn down when the server stays silent longer than this.
	SSEReadTimeout time.Duration
}

// Conn is an open SSE connection: one inbound event stream plus the
// outbound post endpoint. It is the "streams" pair a Session is built over.
type Conn struct {
	client       *http.Client
	body         io.ReadCloser
	cancelStream context.CancelFunc
	endpoint     string
	headers      map[string]string

	incoming chan *Response
	done     chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Open connects, waits for the endpoint event, and starts the read loop.
// The stream outlives ctx once established; ctx only bounds the connect
// phase.
func (t *Transport) Open(ctx context.Context) (*Conn, error) {
	streamCtx, cancelStream := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		cancelStream()
		return nil, fmt.Errorf("create sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	connected := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancelStream()
		case <-connected:
		}
	}()

	resp, err := http.DefaultClient.Do(req)
	close(connected)
	if err != nil {
		cancelStream()
		return nil, fmt.Errorf("connect sse: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancelStream()
		return nil, fmt.Errorf("sse http error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		cancelStream()
		return nil, fmt.Errorf("unexpected sse content type %q", ct)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Conn{
		client:       &http.Client{Timeout: timeout},
		body:         resp.Body,
		cancelStream: cancelStream,
		headers:      t.Headers,
		incoming:     make(chan *Response, 16),
		done:         make(chan struct{}),
	}

	endpointCh := make(chan string, 1)
	go c.readLoop(t, endpointCh)

	select {
	case endpoint, ok := <-endpointCh:
		if !ok {
			err := c.Err()
			_ = c.Close()
			if err == nil {
				err = fmt.Errorf("sse stream closed before endpoint event")
			}
			return nil, err
		}
		resolved, err := resolveEndpoint(t.URL, endpoint)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.endpoint = resolved
		return c, nil
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

func resolveEndpoint(base, endpoint string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse sse url: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint event %q: %w", endpoint, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// readLoop parses the SSE stream and dispatches events until the body
// closes or the idle timeout fires.
func (c *Conn) readLoop(t *Transport, endpointCh chan<- string) {
	defer close(c.incoming)
	defer close(endpointCh)

	var idle *time.Timer
	if t.SSEReadTimeout > 0 {
		idle = time.AfterFunc(t.SSEReadTimeout, func() {
			c.setErr(fmt.Errorf("sse read timeout after %s", t.SSEReadTimeout))
			_ = c.body.Close()
		})
		defer idle.Stop()
	}

	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	event := ""
	var dataLines []string
	sentEndpoint := false

	dispatch := func() {
		if idle != nil {
			idle.Reset(t.SSEReadTimeout)
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		switch event {
		case "endpoint":
			if !sentEndpoint {
				sentEndpoint = true
				endpointCh <- data
			}
		case "message", "":
			var resp Response
			if err := json.Unmarshal([]byte(data), &resp); err != nil {
				log.Warn().Err(err).Msg("Skipping malformed sse message event")
				return
			}
			select {
			case c.incoming <- &resp:
			case <-c.done:
			}
		}
		event = ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 || event != "" {
				dispatch()
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		c.setErr(fmt.Errorf("read sse stream: %w", err))
	}
	if len(dataLines) > 0 {
		dispatch()
	}
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first stream error observed, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Incoming yields server messages. The channel closes when the stream ends.
func (c *Conn) Incoming() <-chan *Response { return c.incoming }

// Send posts one JSON-RPC message to the endpoint announced by the server.
func (c *Conn) Send(ctx context.Context, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close tears down the stream and releases the connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.body.Close()
		if c.cancelStream != nil {
			c.cancelStream()
		}
		c.client.CloseIdleConnections()
	})
	return nil
}
