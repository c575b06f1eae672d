package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/logging"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/proxy"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/schema"
	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/server"
)

func main() {
	flagConfig := flag.String("config", "", "path to the config file")
	flag.Parse()

	if os.Getenv(logging.EnvLogFile) == "" {
		if path := logging.DefaultLogFile(); path != "" {
			os.Setenv(logging.EnvLogFile, path)
		}
	}
	if err := logging.Setup(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	if err := run(*flagConfig); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		if te, ok := schema.AsToolError(err); ok {
			fmt.Fprintf(os.Stderr, "Error %d: %s\n", te.Code, te.Message)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(configFlag string) error {
	path := config.ResolvePath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Successfully loaded properties")

	sup, err := proxy.New(cfg.Jetbrains)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer sup.Stop(context.Background())

	handler := server.NewHandler(cfg.ServerName, sup, cfg.Timeout)

	if cfg.Transport == config.TransportSSE {
		srv := server.NewSSEServer(handler, cfg.SSEBindHost, cfg.SSEPort, cfg.SSETransportEndpoint, cfg.SSEDebugEnabled)
		return srv.Run(ctx)
	}

	// Stdio owns stdout, so console logging must be off.
	if logging.ConsoleEnabled() {
		log.Error().Msg("SIMP_LOGGER_LOG_CONSOLE_ENABLED must be set to false to use stdio transport")
		return schema.NewToolError(schema.CodeBadRequest,
			"%s must be set to false to use stdio transport", logging.EnvConsoleEnabled)
	}

	log.Info().Msg("Starting server with stdio transport")
	return server.NewStdioServer(handler, os.Stdin, os.Stdout).Run(ctx)
}
