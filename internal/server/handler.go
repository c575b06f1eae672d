// Package server exposes the proxy to clients over the stdio and SSE HTTP
// transports.
package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/mcp"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/proxy"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/schema"
)

// genericErrorMessage is returned when an upstream error result carries no
// usable text.
const genericErrorMessage = "Error calling tool. Please check the server logs for more details."

// Handler answers client MCP requests by delegating to the supervisor.
// It is transport-agnostic; both front-ends drive the same instance.
type Handler struct {
	name    string
	sup     *proxy.Supervisor
	timeout time.Duration
}

// NewHandler builds the shared request handler.
func NewHandler(name string, sup *proxy.Supervisor, timeout time.Duration) *Handler {
	return &Handler{name: name, sup: sup, timeout: timeout}
}

// Handle answers one request. Notifications return nil.
func (h *Handler) Handle(ctx context.Context, req *mcp.Request) *mcp.Response {
	if req.IsNotification() {
		// notifications/initialized and friends need no reply.
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "ping":
		resp, _ := mcp.NewResponse(req.ID, map[string]any{})
		return resp
	case "tools/list":
		return h.handleListTools(ctx, req)
	case "tools/call":
		return h.handleCallTool(ctx, req)
	}
	return mcp.NewErrorResponse(req.ID, -32601, "method not found: "+req.Method)
}

func (h *Handler) handleInitialize(req *mcp.Request) *mcp.Response {
	result := mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      mcp.Implementation{Name: h.name, Version: "1.0.0"},
	}
	resp, err := mcp.NewResponse(req.ID, result)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, schema.CodeServerError, err.Error())
	}
	return resp
}

func (h *Handler) handleListTools(ctx context.Context, req *mcp.Request) *mcp.Response {
	result, err := h.sup.ListTools(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Exception listing tools")
		return mcp.NewErrorResponse(req.ID, schema.Code(err), err.Error())
	}
	resp, err := mcp.NewResponse(req.ID, result)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, schema.CodeServerError, err.Error())
	}
	return resp
}

func (h *Handler) handleCallTool(ctx context.Context, req *mcp.Request) *mcp.Response {
	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return mcp.NewErrorResponse(req.ID, schema.CodeBadRequest, "invalid tools/call params: "+err.Error())
	}

	result, err := h.sup.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		log.Error().Err(err).Str("tool", params.Name).Msg("Exception calling tool")
		return mcp.NewErrorResponse(req.ID, schema.Code(err), err.Error())
	}

	if result.IsError {
		message := joinErrorText(result)
		log.Error().Str("tool", params.Name).Str("message", message).Msg("Tool call returned an error result")
		return mcp.NewErrorResponse(req.ID, schema.CodeServerError, message)
	}

	resp, err := mcp.NewResponse(req.ID, map[string]any{"content": result.Content, "isError": false})
	if err != nil {
		return mcp.NewErrorResponse(req.ID, schema.CodeServerError, err.Error())
	}
	return resp
}

// joinErrorText concatenates the text blocks of an error result into one
// message, falling back to a generic sentence when nothing usable is there.
func joinErrorText(result *mcp.ToolResult) string {
	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			if text := strings.TrimSpace(block.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	message := strings.TrimSpace(strings.Join(parts, " "))
	if message == "" {
		return genericErrorMessage
	}
	return message
}
