package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/mcp"
)

// StdioServer reads newline-delimited JSON-RPC from in and writes responses
// to out, one per line.
type StdioServer struct {
	handler *Handler
	in      io.Reader
	out     io.Writer

	// writeMu keeps concurrent responses from interleaving on out.
	writeMu sync.Mutex
}

// NewStdioServer builds a stdio front-end over the given streams.
func NewStdioServer(handler *Handler, in io.Reader, out io.Writer) *StdioServer {
	return &StdioServer{handler: handler, in: in, out: out}
}

// Run serves until in closes or ctx is canceled.
func (s *StdioServer) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req mcp.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			log.Warn().Err(err).Msg("Failed to parse request")
			s.write(mcp.NewErrorResponse(nil, -32700, "parse error: "+err.Error()))
			continue
		}

		if resp := s.handler.Handle(ctx, &req); resp != nil {
			s.write(resp)
		}
	}
	return scanner.Err()
}

func (s *StdioServer) write(resp *mcp.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
