package server

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/mcp"
)

func TestStdioServerRoundTrip(t *testing.T) {
	h := NewHandler("stdio-proxy", nil, time.Second)

	in := strings.NewReader(`
{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}
{"jsonrpc":"2.0","method":"notifications/initialized"}
not json
{"jsonrpc":"2.0","id":2,"method":"ping"}
`)
	var out bytes.Buffer

	if err := NewStdioServer(h, in, &out).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 responses (initialize, parse error, ping), got %d: %q", len(lines), out.String())
	}

	var initResp mcp.Response
	if err := json.Unmarshal([]byte(lines[0]), &initResp); err != nil {
		t.Fatal(err)
	}
	if initResp.Error != nil {
		t.Errorf("initialize failed: %+v", initResp.Error)
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(initResp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.ServerInfo.Name != "stdio-proxy" {
		t.Errorf("server name = %q", result.ServerInfo.Name)
	}

	var parseResp mcp.Response
	if err := json.Unmarshal([]byte(lines[1]), &parseResp); err != nil {
		t.Fatal(err)
	}
	if parseResp.Error == nil || parseResp.Error.Code != -32700 {
		t.Errorf("expected parse error, got %+v", parseResp)
	}

	var pingResp mcp.Response
	if err := json.Unmarshal([]byte(lines[2]), &pingResp); err != nil {
		t.Fatal(err)
	}
	if pingResp.Error != nil {
		t.Errorf("ping failed: %+v", pingResp.Error)
	}
}
