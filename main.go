package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/config"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/console"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/logging"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/mcp"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/server"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/telemetry"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/transport"
)

var version = "dev"

// exitPortInUse is returned when the configured port is held by another process.
const exitPortInUse = 2

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "probe" {
		err = probe(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var portErr *transport.PortInUseError
	if errors.As(err, &portErr) {
		fmt.Fprintf(os.Stderr, "Another process is listening on port %d. Choose another port with --port or INDEX_MCP_PORT.\n", portErr.Port)
		os.Exit(exitPortInUse)
	}
	os.Exit(1)
}

func run(args []string) error {
	flags := config.Flags()
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	settings, configFile, err := config.Load(flags)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(settings.LogLevel), "", logging.ParseFormat(settings.LogFormat))
	if configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     settings.Telemetry.Enabled,
		ServiceName: settings.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	manager := config.NewManager(settings, configFile)
	srv, err := server.New(ctx, server.Options{
		Settings:  manager,
		Logger:    logger,
		Telemetry: inst,
		Version:   version,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("listening", "sse", srv.Transport().SSEURL(), "project", srv.Project().Root())

	if !settings.Console {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	c, err := console.New(srv)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	}
}

// probe connects to a running server, lists its tools, and optionally calls
// one of them.
func probe(args []string) error {
	flags := pflag.NewFlagSet("probe", pflag.ContinueOnError)
	url := flags.String("url", fmt.Sprintf("http://%s:%d%s/sse", config.DefaultHost, config.DefaultPort, config.DefaultEndpointPath), "SSE URL of the server")
	call := flags.String("call", "", "tool to call")
	argsJSON := flags.String("args", "{}", "tool arguments as a JSON object")
	timeout := flags.Duration("timeout", 10*time.Second, "overall timeout")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := mcp.Dial(ctx, *url)
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.Initialize(ctx, "index-mcp-probe", version)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (protocol %s)\n", info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)

	tools, err := client.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, t := range tools {
		fmt.Printf("  %s\n", t.Name)
	}

	if *call == "" {
		return nil
	}
	var callArgs map[string]any
	if err := json.Unmarshal([]byte(*argsJSON), &callArgs); err != nil {
		return fmt.Errorf("invalid --args: %w", err)
	}
	res, err := client.CallTool(ctx, *call, callArgs)
	if err != nil {
		return err
	}
	for _, block := range res.Content {
		fmt.Println(block.Text)
	}
	if res.IsError {
		return fmt.Errorf("tool %s reported an error", *call)
	}
	return nil
}
