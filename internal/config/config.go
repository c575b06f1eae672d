// Package config loads the proxy properties from a YAML file. Keys accept
// hyphens and underscores interchangeably. Environment variables supply
// properties that the file leaves unset or blank; a value present in the
// file is not overridden by the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/schema"
)

// EnvConfigPath points at the properties file when no --config flag is
// given; when set, it takes precedence over ./config.yaml and the home
// directory location.
const EnvConfigPath = "JETBRAINS_PROXY_MCP_SERVER_CONFIG"

const envPrefix = "JETBRAINS_PROXY_MCP_SERVER_"

// Transport kinds for the client-facing side.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Upstream is the immutable bundle describing the JetBrains MCP server
// connection, its retry parameters, and the path translation policy.
type Upstream struct {
	Name           string
	URL            string
	Headers        map[string]string
	Timeout        time.Duration
	SSEReadTimeout time.Duration
	StartTimeout   time.Duration
	StopTimeout    time.Duration

	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	ClientPathType string
	ServerPathType string

	DebugEnabled bool
}

// Properties is the root configuration.
type Properties struct {
	ServerName string
	Transport  string

	SSETransportEndpoint string
	SSEBindHost          string
	SSEPort              int
	SSEDebugEnabled      bool

	// Timeout bounds one client-facing RPC end to end.
	Timeout time.Duration

	Jetbrains Upstream
}

func defaults() *Properties {
	return &Properties{
		ServerName:           "Jetbrains Proxy MCP Server",
		Transport:            TransportSSE,
		SSETransportEndpoint: "/messages/",
		SSEBindHost:          "0.0.0.0",
		SSEPort:              41110,
		SSEDebugEnabled:      true,
		Timeout:              60 * time.Second,
		Jetbrains: Upstream{
			Name:              "jetbrains-mcp-server",
			URL:               "http://127.0.0.1:64342/sse",
			Timeout:           35 * time.Second,
			SSEReadTimeout:    5 * time.Minute,
			StartTimeout:      120 * time.Second,
			StopTimeout:       30 * time.Second,
			MaxAttempts:       5,
			InitialBackoff:    time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 3.0,
			ClientPathType:    "wsl",
			ServerPathType:    "windows",
			DebugEnabled:      true,
		},
	}
}

// ResolvePath picks the properties file location: the explicit flag value,
// else ./config.yaml, else ~/.config/jetbrains-proxy-mcp-server/config.yaml.
// EnvConfigPath overrides the fallback locations.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	path := "config.yaml"
	if _, err := os.Stat(path); err != nil {
		if home, herr := os.UserHomeDir(); herr == nil {
			path = filepath.Join(home, ".config", "jetbrains-proxy-mcp-server", "config.yaml")
		}
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}
	return path
}

// Load reads and validates the properties file. A missing file is a 404
// error, a parse failure a 400.
func Load(path string) (*Properties, error) {
	if _, err := os.Stat(path); err != nil {
		log.Error().Str("path", path).Msg("Properties file does not exist")
		return nil, schema.NewToolError(schema.CodeNotFound, "properties file %s does not exist", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to read properties file")
		return nil, schema.NewToolError(schema.CodeBadRequest, "error reading properties file: %v", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to parse properties file")
		return nil, schema.NewToolError(schema.CodeBadRequest, "error parsing YAML file: %v", err)
	}
	if raw == nil {
		log.Warn().Str("path", path).Msg("Properties file is empty")
		raw = map[string]any{}
	}

	props := normalizeKeys(raw)
	cfg := defaults()
	cfg.loadBasic(props)
	cfg.loadJetbrains(props)
	return cfg, nil
}

func (c *Properties) loadBasic(props map[string]any) {
	if name := getString(props, "server_name", envPrefix+"NAME", ""); name != "" {
		c.ServerName = name
	}
	if transport := getString(props, "transport", envPrefix+"TRANSPORT", ""); transport == TransportStdio || transport == TransportSSE {
		c.Transport = transport
	}

	if c.Transport == TransportSSE {
		if endpoint := getString(props, "sse_transport_endpoint", envPrefix+"SSE_TRANSPORT_ENDPOINT", ""); endpoint != "" {
			c.SSETransportEndpoint = endpoint
		}
		if host := getString(props, "sse_bind_host", envPrefix+"SSE_BIND_HOST", ""); host != "" {
			c.SSEBindHost = host
		}
		if port, ok := getInt(props, "sse_port", envPrefix+"SSE_PORT"); ok && port > 0 && port < 65536 {
			c.SSEPort = port
		}
		if debug, ok := getBool(props, "sse_debug_enabled", envPrefix+"SSE_DEBUG_ENABLED"); ok {
			c.SSEDebugEnabled = debug
		}
	}

	if timeout, ok := getSeconds(props, "timeout", envPrefix+"TIMEOUT"); ok && timeout >= 100*time.Millisecond {
		c.Timeout = timeout
	}

	log.Info().
		Str("server_name", c.ServerName).
		Str("transport", c.Transport).
		Dur("timeout", c.Timeout).
		Msg("Loaded server properties")
}

func (c *Properties) loadJetbrains(props map[string]any) {
	nested, ok := props["jetbrains_mcp_server"].(map[string]any)
	if !ok {
		if _, present := props["jetbrains_mcp_server"]; present {
			log.Warn().Msg("jetbrains_mcp_server properties are not a mapping, skipping")
		}
		return
	}
	server := normalizeKeys(nested)

	u := &c.Jetbrains
	const prefix = "JETBRAINS_MCP_SERVER_"

	if v := getString(server, "name", prefix+"NAME", ""); v != "" {
		u.Name = v
	}
	if v := getString(server, "url", prefix+"URL", ""); v != "" {
		u.URL = v
	}
	if headers, ok := server["headers"].(map[string]any); ok {
		u.Headers = map[string]string{}
		for k, v := range headers {
			u.Headers[k] = fmt.Sprint(v)
		}
	}
	if v, ok := getSeconds(server, "timeout", prefix+"TIMEOUT"); ok && v >= 100*time.Millisecond {
		u.Timeout = v
	}
	if v, ok := getSeconds(server, "sse_read_timeout", prefix+"SSE_READ_TIMEOUT"); ok && v > 0 {
		u.SSEReadTimeout = v
	}
	if v, ok := getSeconds(server, "start_timeout", prefix+"START_TIMEOUT"); ok && v > 0 {
		u.StartTimeout = v
	}
	if v, ok := getSeconds(server, "stop_timeout", prefix+"STOP_TIMEOUT"); ok && v > 0 {
		u.StopTimeout = v
	}
	if v, ok := getInt(server, "max_attempts", prefix+"MAX_ATTEMPTS"); ok && v >= 1 {
		u.MaxAttempts = v
	}
	if v, ok := getSeconds(server, "initial_backoff", prefix+"INITIAL_BACKOFF"); ok && v > 0 {
		u.InitialBackoff = v
	}
	if v, ok := getSeconds(server, "max_backoff", prefix+"MAX_BACKOFF"); ok && v > 0 {
		u.MaxBackoff = v
	}
	if v, ok := getFloat(server, "backoff_multiplier", prefix+"BACKOFF_MULTIPLIER"); ok && v >= 1.0 {
		u.BackoffMultiplier = v
	}
	if v, ok := getBool(server, "debug_enabled", prefix+"DEBUG_ENABLED"); ok {
		u.DebugEnabled = v
	}
	if v := getString(server, "client_path_type", prefix+"CLIENT_PATH_TYPE", ""); v != "" {
		u.ClientPathType = v
	}
	if v := getString(server, "server_path_type", prefix+"SERVER_PATH_TYPE", ""); v != "" {
		u.ServerPathType = v
	}

	log.Info().
		Str("name", u.Name).
		Str("url", u.URL).
		Dur("timeout", u.Timeout).
		Str("client_path_type", u.ClientPathType).
		Str("server_path_type", u.ServerPathType).
		Msg("Loaded jetbrains_mcp_server properties")
}
