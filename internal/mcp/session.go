package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Session is an MCP client session over an open SSE connection. The
// underlying stream carries one response at a time, so the session allows
// exactly one in-flight RPC; concurrent callers queue on the session lock.
type Session struct {
	conn   *Conn
	nextID atomic.Int64

	// mu serializes RPCs on the single stream.
	mu sync.Mutex
}

// NewSession wraps an open connection. The session is unusable until
// Initialize completes.
func NewSession(conn *Conn) *Session {
	return &Session{conn: conn}
}

// call sends one request and waits for the matching response, bounded by
// ctx.
func (s *Session) call(ctx context.Context, method string, params any) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID.Add(1)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if err := s.conn.Send(ctx, req); err != nil {
		return nil, err
	}

	for {
		select {
		case resp, ok := <-s.conn.Incoming():
			if !ok {
				if err := s.conn.Err(); err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("sse stream closed while waiting for %s response", method)
			}
			if resp.ID == nil || !IDMatches(resp.ID, id) {
				// Server-initiated messages and stale responses are not
				// ours to handle.
				log.Debug().Str("method", method).Msg("Discarding unmatched sse message")
				continue
			}
			return resp, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// notify sends a notification; no response is expected.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	req, err := NewRequest(nil, method, params)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return s.conn.Send(ctx, req)
}

// Initialize performs the MCP handshake and sends the initialized
// notification.
func (s *Session) Initialize(ctx context.Context, clientInfo Implementation) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo,
	}

	resp, err := s.call(ctx, "initialize", params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("initialize error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal initialize result: %w", err)
	}

	if err := s.notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("send initialized notification: %w", err)
	}
	return &result, nil
}

// ListTools requests the server's tool catalogue.
func (s *Session) ListTools(ctx context.Context) (*ListToolsResult, error) {
	resp, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	return &result, nil
}

// CallTool invokes a tool on the server. Protocol-level errors come back as
// an isError result, matching how tool failures surface in-band.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	resp, err := s.call(ctx, "tools/call", CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return &ToolResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("Error: %s", resp.Error.Message)}},
			IsError: true,
		}, nil
	}

	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

// Close releases the session. The connection owns the stream and is closed
// separately.
func (s *Session) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		// Wait for any in-flight RPC to drain before declaring the
		// session closed.
		s.mu.Lock()
		defer s.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
