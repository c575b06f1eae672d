// Package proxy supervises the upstream JetBrains MCP session and
// dispatches tool calls through it, rewriting filesystem paths between the
// client's and the server's conventions.
package proxy

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/mcp"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/retry"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/schema"
)

// Status is the supervisor lifecycle state.
type Status int32

// Lifecycle states. The session pair is non-nil iff the status is Started
// or Stopping.
const (
	Stopped Status = iota
	Starting
	Started
	Stopping
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Started:
		return "STARTED"
	case Stopping:
		return "STOPPING"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// session is the slice of mcp.Session the supervisor drives. Tests inject
// fakes through the dial seam.
type session interface {
	ListTools(ctx context.Context) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolResult, error)
	Close(ctx context.Context) error
}

// upstreamPair holds the live transport connection and the session built
// over it.
type upstreamPair struct {
	conn io.Closer
	sess session
}

// dialFunc opens the transport and returns an initialized session.
type dialFunc func(ctx context.Context) (*upstreamPair, error)

// supportedTools is the fixed allow-list. Tools the upstream advertises
// beyond this set are discarded.
//
// create_new_file is deliberately absent: the upstream implementation hangs
// without reporting success.
var supportedTools = map[string]struct{}{
	"get_all_open_file_paths":  {},
	"get_file_problems":        {},
	"get_file_text_by_path":    {},
	"get_project_dependencies": {},
	"get_project_modules":      {},
	"get_project_problems":     {},
	"list_directory_tree":      {},
	"reformat_file":            {},
	"rename_refactoring":       {},
	"replace_text_in_file":     {},
	"search_in_files_by_regex": {},
	"search_in_files_by_text":  {},
}

// Supervisor owns the long-lived upstream session: it runs the lifecycle
// state machine, restarts the session when RPCs fail, and routes tool calls
// through the per-tool rewriters.
type Supervisor struct {
	cfg   config.Upstream
	tools map[string]*toolSpec
	dial  dialFunc

	// mu guards status and srv; statusCh is closed and replaced on every
	// transition so waiters can observe the change.
	mu       sync.Mutex
	status   Status
	statusCh chan struct{}
	srv      *upstreamPair
}

// New builds a supervisor for the configured upstream. The URL is required.
func New(cfg config.Upstream) (*Supervisor, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		log.Error().Msg("Jetbrains MCP server URL is not configured")
		return nil, fmt.Errorf("jetbrains mcp server url is not configured")
	}
	s := &Supervisor{
		cfg:      cfg,
		tools:    newToolSpecs(),
		statusCh: make(chan struct{}),
	}
	s.dial = s.dialUpstream
	return s, nil
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) retryOpts(timeout time.Duration, hook retry.Hook) retry.Options {
	return retry.Options{
		Timeout:        timeout,
		MaxAttempts:    s.cfg.MaxAttempts,
		InitialBackoff: s.cfg.InitialBackoff,
		MaxBackoff:     s.cfg.MaxBackoff,
		Multiplier:     s.cfg.BackoffMultiplier,
		AttemptHook:    hook,
	}
}

// setStatusLocked transitions the state and wakes every waiter.
func (s *Supervisor) setStatusLocked(status Status) {
	s.status = status
	close(s.statusCh)
	s.statusCh = make(chan struct{})
}

// waitStableLocked blocks while the state is transitional. Called with mu
// held; returns with mu held.
func (s *Supervisor) waitStableLocked(ctx context.Context) error {
	for s.status == Starting || s.status == Stopping {
		ch := s.statusCh
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			s.mu.Lock()
			return fmt.Errorf("timeout waiting for server %s to become stable, current status: %s: %w",
				s.cfg.Name, s.status, context.DeadlineExceeded)
		}
		s.mu.Lock()
	}
	return nil
}

// Start brings the session up, bounded by the configured start timeout.
// Already started is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == Started {
		s.mu.Unlock()
		log.Info().Str("server", s.cfg.Name).Msg("Server is already started")
		return nil
	}
	if err := s.waitStableLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.status == Started {
		s.mu.Unlock()
		log.Info().Str("server", s.cfg.Name).Msg("Server is already started")
		return nil
	}
	if s.status != Stopped {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("unexpected status %s after waiting for server %s", status, s.cfg.Name)
	}
	s.setStatusLocked(Starting)
	s.mu.Unlock()

	remaining := remainingTime(ctx)
	if remaining <= 0 {
		s.mu.Lock()
		s.setStatusLocked(Stopped)
		s.mu.Unlock()
		return fmt.Errorf("not enough time left to start server %s: %w", s.cfg.Name, context.DeadlineExceeded)
	}

	var pair *upstreamPair
	err := retry.Execute(ctx, s.retryOpts(remaining, nil), func(ctx context.Context) error {
		p, err := s.dial(ctx)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("server", s.cfg.Name).Msg("Failed to start server")
		s.setStatusLocked(Stopped)
		return err
	}
	s.srv = pair
	s.setStatusLocked(Started)
	log.Info().Str("server", s.cfg.Name).Msg("Successfully started server")
	return nil
}

// dialUpstream opens the SSE transport, builds a session over its streams,
// and initializes it. Partial state is torn down on failure.
func (s *Supervisor) dialUpstream(ctx context.Context) (*upstreamPair, error) {
	transport := &mcp.Transport{
		URL:            s.cfg.URL,
		Headers:        s.cfg.Headers,
		Timeout:        s.cfg.Timeout,
		SSEReadTimeout: s.cfg.SSEReadTimeout,
	}

	conn, err := transport.Open(ctx)
	if err != nil {
		log.Error().Err(err).Str("server", s.cfg.Name).Str("url", s.cfg.URL).Msg("Failed to open sse transport")
		return nil, err
	}

	log.Info().Str("server", s.cfg.Name).Msg("Ready streams for sse server, creating and initializing session")

	sess := mcp.NewSession(conn)
	if _, err := sess.Initialize(ctx, mcp.Implementation{Name: "jetbrains-proxy-mcp-server", Version: "1.0.0"}); err != nil {
		log.Error().Err(err).Str("server", s.cfg.Name).Msg("Failed to initialize session")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
		s.closePair(stopCtx, &upstreamPair{conn: conn, sess: sess})
		cancel()
		return nil, err
	}

	log.Info().
		Str("server", s.cfg.Name).
		Str("url", s.cfg.URL).
		Dur("timeout", s.cfg.Timeout).
		Dur("sse_read_timeout", s.cfg.SSEReadTimeout).
		Msg("Successfully started sse server session")

	return &upstreamPair{conn: conn, sess: sess}, nil
}

// Stop tears the session down. It never fails: errors are logged and
// swallowed.
func (s *Supervisor) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	s.stop(ctx)
}

func (s *Supervisor) stop(ctx context.Context) {
	s.mu.Lock()
	if s.status == Stopped {
		s.mu.Unlock()
		log.Info().Str("server", s.cfg.Name).Msg("Server is already stopped")
		return
	}
	if err := s.waitStableLocked(ctx); err != nil {
		status := s.status
		s.mu.Unlock()
		log.Warn().Str("server", s.cfg.Name).Stringer("status", status).
			Msg("Timeout waiting for server to become stable before stopping")
		return
	}
	if s.status == Stopped {
		s.mu.Unlock()
		log.Info().Str("server", s.cfg.Name).Msg("Server is already stopped")
		return
	}
	if s.status != Started {
		status := s.status
		s.mu.Unlock()
		log.Warn().Str("server", s.cfg.Name).Stringer("status", status).Msg("Cannot stop server in this status")
		return
	}
	s.setStatusLocked(Stopping)
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		log.Warn().Str("server", s.cfg.Name).
			Msg("Inconsistent state: status is STARTED but no session is held")
	} else {
		s.closePair(ctx, srv)
	}

	s.mu.Lock()
	s.srv = nil
	s.setStatusLocked(Stopped)
	s.mu.Unlock()
	log.Info().Str("server", s.cfg.Name).Msg("Stopped server")
}

// closePair closes the session and then the transport, each bounded by a
// slice of the remaining budget, through the retry executor. Errors are
// logged and swallowed.
func (s *Supervisor) closePair(ctx context.Context, pair *upstreamPair) {
	err := retry.Execute(ctx, s.retryOpts(remainingTime(ctx), nil), func(ctx context.Context) error {
		s.doClose(ctx, pair)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("server", s.cfg.Name).Msg("Exception stopping sse server, ignoring")
	}
}

func (s *Supervisor) doClose(ctx context.Context, pair *upstreamPair) {
	timeout := remainingTime(ctx)
	if timeout < time.Second {
		timeout = time.Second
	}

	if pair.sess != nil {
		sessTimeout := timeout
		if pair.conn != nil {
			// Leave the last third of the budget for the transport.
			sessTimeout = timeout / 3 * 2
		}
		sessCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessTimeout)
		if err := pair.sess.Close(sessCtx); err != nil {
			log.Error().Err(err).Str("server", s.cfg.Name).Msg("Exception closing session, ignoring")
		}
		cancel()
	}

	if pair.conn != nil {
		connTimeout := remainingTime(ctx)
		if connTimeout < time.Second {
			connTimeout = time.Second
		}
		done := make(chan error, 1)
		go func() { done <- pair.conn.Close() }()
		select {
		case err := <-done:
			if err != nil {
				log.Error().Err(err).Str("server", s.cfg.Name).Msg("Exception closing transport, ignoring")
			}
		case <-time.After(connTimeout):
			log.Error().Str("server", s.cfg.Name).Msg("Timeout closing transport, ignoring")
		}
	}
}

// Restart stops then starts, each phase drawing on the same outer deadline.
func (s *Supervisor) Restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()
	return s.restart(ctx)
}

func (s *Supervisor) restart(ctx context.Context) error {
	s.stop(ctx)

	if remainingTime(ctx) <= 0 {
		log.Error().Str("server", s.cfg.Name).Msg("Timeout before starting again after stopping server")
		return fmt.Errorf("timeout before starting again after stopping server %s: %w",
			s.cfg.Name, context.DeadlineExceeded)
	}
	return s.start(ctx)
}

// restartOnError is the attempt hook for tool RPCs: any failure except a
// timeout tears the session down and brings it back up before the next
// attempt. Restart failures are logged and do not block the retry.
func (s *Supervisor) restartOnError(ctx context.Context, args retry.HookArgs) error {
	if args.Err != nil && schema.IsTimeout(args.Err) {
		log.Warn().Int("attempt", args.Attempt).Str("server", s.cfg.Name).
			Msg("Timeout error, not restarting server")
		return nil
	}

	log.Warn().Err(args.Err).Int("attempt", args.Attempt).Str("server", s.cfg.Name).
		Msg("Restarting server due to error")

	remaining := time.Until(args.Deadline)
	if remaining <= 0 {
		log.Warn().Str("server", s.cfg.Name).Msg("Not enough time to restart server, skipping restart")
		return nil
	}
	restartCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remaining)
	defer cancel()
	if err := s.restart(restartCtx); err != nil {
		log.Warn().Err(err).Str("server", s.cfg.Name).Msg("Exception restarting server, ignored")
		return nil
	}
	log.Info().Int("attempt", args.Attempt).Str("server", s.cfg.Name).Msg("Successfully restarted server")
	return nil
}

// ensureStarted starts the session unless it is already up.
func (s *Supervisor) ensureStarted(ctx context.Context) error {
	s.mu.Lock()
	started := s.status == Started
	s.mu.Unlock()
	if started {
		return nil
	}
	return s.start(ctx)
}

// currentSession reads the session on the RPC path after ensureStarted. A
// concurrent stop can clear it between attempts; callers surface that as a
// retryable server error.
func (s *Supervisor) currentSession() (session, error) {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil || srv.sess == nil {
		return nil, schema.NewToolError(schema.CodeServerError, "server %s has no active session", s.cfg.Name)
	}
	return srv.sess, nil
}

func remainingTime(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Duration(1<<62 - 1)
	}
	return time.Until(deadline)
}

// ListTools fetches the upstream catalogue, filtered to the allow-list and
// sorted by name. On exhausted retries the supervisor is stopped before the
// error surfaces so the next call reopens cleanly.
func (s *Supervisor) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}

	remaining := remainingTime(ctx)
	if remaining <= 0 {
		log.Error().Str("server", s.cfg.Name).Msg("Timeout before listing tools")
		return nil, fmt.Errorf("timeout before listing tools: %w", context.DeadlineExceeded)
	}

	result, err := retry.Get(ctx, s.retryOpts(remaining, s.restartOnError), s.doListTools)
	if err != nil {
		log.Error().Err(err).Str("server", s.cfg.Name).Msg("Exception listing tools")
		s.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	return result, nil
}

func (s *Supervisor) doListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	sess, err := s.currentSession()
	if err != nil {
		return nil, err
	}

	if s.cfg.DebugEnabled {
		log.Debug().Str("server", s.cfg.Name).Msg("Listing tools")
	}

	result, err := sess.ListTools(ctx)
	if err != nil {
		if schema.IsTimeout(err) {
			log.Error().Err(err).Str("server", s.cfg.Name).Msg("Timeout calling list_tools")
			s.Stop(context.WithoutCancel(ctx))
			return nil, schema.NewToolError(schema.CodeTimeout, "timeout calling list_tools: %v", err)
		}
		log.Error().Err(err).Str("server", s.cfg.Name).Msg("Exception calling list_tools")
		return nil, schema.NewToolError(schema.CodeServerError, "exception calling list_tools on %s: %v", s.cfg.Name, err)
	}

	filtered := make([]mcp.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		if _, ok := supportedTools[t.Name]; !ok {
			log.Warn().Str("tool", t.Name).Msg("Tool is not supported by the proxy, discarding")
			continue
		}
		filtered = append(filtered, t)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })
	result.Tools = filtered
	return result, nil
}

// CallTool dispatches a tool call. Tools with a registry entry get their
// required arguments checked and their paths rewritten; everything else
// passes through unchanged. On exhausted retries the supervisor is stopped
// before the error surfaces so the next call reopens cleanly.
func (s *Supervisor) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}

	remaining := remainingTime(ctx)
	if remaining <= 0 {
		log.Error().Str("tool", name).Msg("Timeout before calling tool")
		return nil, fmt.Errorf("timeout before calling tool %s: %w", name, context.DeadlineExceeded)
	}

	spec := s.tools[name]
	if spec != nil {
		if err := spec.checkRequired(arguments); err != nil {
			return nil, err
		}
		s.rewriteArguments(spec, arguments)
		if s.cfg.DebugEnabled {
			log.Debug().Str("tool", name).Interface("arguments", arguments).
				Msg("Dispatching to specialized handler")
		}
	} else if s.cfg.DebugEnabled {
		log.Debug().Str("tool", name).Interface("arguments", arguments).
			Msg("No specialized handler, using generic call")
	}

	result, err := retry.Get(ctx, s.retryOpts(remaining, s.restartOnError), func(ctx context.Context) (*mcp.ToolResult, error) {
		result, err := s.doCallTool(ctx, name, arguments)
		if err != nil {
			return nil, err
		}
		if spec != nil {
			s.rewriteResult(spec, result)
		}
		return result, nil
	})
	if err != nil {
		log.Error().Err(err).Str("tool", name).Str("server", s.cfg.Name).Msg("Exhausted retries calling tool")
		s.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	return result, nil
}

// doCallTool performs one upstream invocation. A deadline expiry surfaces
// as a 408 tool error; any other failure stops the supervisor and surfaces
// as a 500 so the restart hook can reopen it.
func (s *Supervisor) doCallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolResult, error) {
	sess, err := s.currentSession()
	if err != nil {
		return nil, err
	}

	response, err := sess.CallTool(ctx, name, arguments)
	if err != nil {
		if schema.IsTimeout(err) {
			log.Error().Err(err).Str("tool", name).Str("server", s.cfg.Name).Msg("Timeout calling tool")
			return nil, schema.NewToolError(schema.CodeTimeout, "timeout calling %s: %v", name, err)
		}
		log.Error().Err(err).Str("tool", name).Str("server", s.cfg.Name).Msg("Exception calling tool")
		s.Stop(context.WithoutCancel(ctx))
		return nil, schema.NewToolError(schema.CodeServerError, "exception calling %s: %v", name, err)
	}

	if s.cfg.DebugEnabled {
		log.Debug().Str("tool", name).Interface("response", response).Msg("Call tool response")
	}
	return response, nil
}
