// Blockwright is an AI page-building agent for WordPress block sites.
//
// It exposes an HTTP API that runs model/tool turns against the site's
// REST API and, through a websocket or MQTT bridge, against the live
// block editor. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	blockwright serve              Start the API server
//	blockwright init [dir]         Write an example config and data directory
//	blockwright ask <message>      Run a single turn and print the reply
//	blockwright version            Print version and build information
//	blockwright -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/blockwright/internal/agent"
	"github.com/nugget/blockwright/internal/api"
	"github.com/nugget/blockwright/internal/buildinfo"
	"github.com/nugget/blockwright/internal/config"
)

// shutdownTimeout bounds the HTTP drain on shutdown.
const shutdownTimeout = 10 * time.Second

// main builds the OS environment and hands off to [run], keeping
// os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; the caller
// prints a returned error to stderr. Arguments are parsed by hand so run
// can be called concurrently from tests without flag package globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: blockwright ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Blockwright - AI page builder for WordPress")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: blockwright [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the API server")
	fmt.Fprintln(w, "  init [dir]       Write an example config (default: .)")
	fmt.Fprintln(w, "  ask <message>    Run a single turn and print the reply")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/blockwright/config.yaml, /etc/blockwright/config.yaml")
	return nil
}

// runAsk runs one blocking turn without starting the server. Editor
// tools are registered but have no transport, so they time out; ask is
// meant for content API work and smoke tests.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath)

	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res, err := a.orchestrator.Process(ctx, strings.Join(args, " "), agent.Options{
		ExtendedThinking: cfg.Anthropic.ExtendedThinking,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.Response)
	if res.Truncated {
		fmt.Fprintf(stdout, "\n(stopped after %d iterations)\n", res.Iterations)
	}
	return nil
}

// runServe starts the API server and blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives. Shutdown drains HTTP, rejects every pending
// editor command, stops the watchers and closes the databases.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("starting Blockwright",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
		"environment", cfg.Environment,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		a.Close(context.Background())
		return err
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.orchestrator, a.store, a.registry, logger)
	server.SetEnvironment(cfg.Environment)
	server.SetReplyHandler(a.bridge)
	server.SetHealth(a.watch)
	server.SetTurnDefaults(api.TurnDefaults{
		Plan:                cfg.Agent.Planning,
		RequirePlanApproval: cfg.Agent.RequirePlanApproval,
		ExtendedThinking:    cfg.Anthropic.ExtendedThinking,
	})
	if a.hub != nil {
		server.SetEditorSocket(a.hub)
	}
	if a.usage != nil {
		server.SetUsageReporter(a.usage)
	}
	if a.delegations != nil {
		server.SetDelegations(a.delegations)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-errCh:
		if err != nil {
			logger.Error("API server failed", "error", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("HTTP drain incomplete", "error", serr)
	}
	a.Close(shutdownCtx)
	logger.Info("shutdown complete")
	return err
}

// newLogger returns a text or json slog logger writing to w.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates, parses and validates the YAML configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if cfg.Anthropic.APIKey == "" {
		return nil, cfgPath, errors.New("anthropic.api_key is required")
	}
	return cfg, cfgPath, nil
}
