package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/mcp"
)

// SSEServer exposes the proxy over the HTTP+SSE transport: clients GET /sse
// to open an event stream, receive an endpoint event naming the message
// endpoint, and POST requests there with their session id.
type SSEServer struct {
	handler  *Handler
	host     string
	port     int
	endpoint string
	debug    bool

	mu       sync.Mutex
	sessions map[string]*sseSession
}

type sseSession struct {
	id     string
	events chan []byte
	closed chan struct{}
}

// NewSSEServer builds the SSE front-end. endpoint is the message-post path,
// e.g. "/messages/".
func NewSSEServer(handler *Handler, host string, port int, endpoint string, debug bool) *SSEServer {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return &SSEServer{
		handler:  handler,
		host:     host,
		port:     port,
		endpoint: endpoint,
		debug:    debug,
		sessions: make(map[string]*sseSession),
	}
}

// Run serves until ctx is canceled.
func (s *SSEServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc(s.endpoint, s.handleMessage)

	srv := &http.Server{
		Addr:              net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Str("endpoint", s.endpoint).Bool("debug", s.debug).
		Msg("Starting server with SSE transport")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleSSE opens a client session and streams responses until the client
// disconnects.
func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := &sseSession{
		id:     uuid.NewString(),
		events: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		close(sess.closed)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	endpoint := fmt.Sprintf("%s?session_id=%s", s.endpoint, sess.id)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	if s.debug {
		log.Debug().Str("session_id", sess.id).Msg("SSE client connected")
	}

	for {
		select {
		case data := <-sess.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			if s.debug {
				log.Debug().Str("session_id", sess.id).Msg("SSE client disconnected")
			}
			return
		}
	}
}

// handleMessage accepts one posted request and queues the response onto the
// session's event stream.
func (s *SSEServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	s.mu.Lock()
	sess := s.sessions[sessionID]
	s.mu.Unlock()
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var req mcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Handle in the background so slow upstream calls do not block the
	// POST; the response travels over the SSE stream.
	go func() {
		resp := s.handler.Handle(context.Background(), &req)
		if resp == nil {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal response")
			return
		}
		select {
		case sess.events <- data:
		case <-sess.closed:
			log.Warn().Str("session_id", sess.id).Msg("Dropping response for closed SSE session")
		}
	}()
}
