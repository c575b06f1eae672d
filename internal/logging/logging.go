// Package logging configures the global zerolog logger from the
// SIMP_LOGGER_* environment.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables honored at startup.
const (
	EnvLogFile        = "SIMP_LOGGER_LOG_FILE"
	EnvConsoleEnabled = "SIMP_LOGGER_LOG_CONSOLE_ENABLED"
)

// DefaultLogFile returns the fallback log path under the user's home
// directory.
func DefaultLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "logs", "jetbrains-proxy-mcp-server", "mcp.log")
}

// ConsoleEnabled reports whether console logging is on. Anything other than
// an explicit "false" keeps it on. The stdio transport owns stdout, so it
// refuses to start while this is enabled.
func ConsoleEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(os.Getenv(EnvConsoleEnabled)), "false")
}

// Setup wires the global logger to the configured file and, unless disabled,
// stderr.
func Setup() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var writers []io.Writer
	if ConsoleEnabled() {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	path := os.Getenv(EnvLogFile)
	if path == "" {
		path = DefaultLogFile()
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return err
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	return nil
}
