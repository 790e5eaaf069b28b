package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/convokehq/convoke/pkg/engine"
	"github.com/convokehq/convoke/pkg/messages"
	"github.com/convokehq/convoke/pkg/tools/mcptools"
)

func main() {
	// Handle subcommands before flag parsing.
	if len(os.Args) > 1 && os.Args[1] == "init" {
		initCmd := flag.NewFlagSet("init", flag.ExitOnError)
		initCmd.Usage = func() {
			fmt.Fprintf(os.Stderr, "Usage: convoke init [flags]\n\nCreate a convoke.yaml through an interactive wizard.\n\nFlags:\n")
			initCmd.PrintDefaults()
		}
		cfgPath := initCmd.String("config", "convoke.yaml", "path of the config file to write")
		force := initCmd.Bool("force", false, "overwrite an existing config file")
		_ = initCmd.Parse(os.Args[2:])

		if err := runInit(*cfgPath, *force); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: convoke [flags]\n       convoke <command> [flags]\n\nFlags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n  init    Create a convoke.yaml through an interactive wizard\n")
	}

	configPath := flag.String("config", "", "path to configuration file (default: convoke.yaml if present)")
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	model := flag.String("model", "", "model to chat with as provider:model (default: first model in the config)")
	mcpServer := flag.String("mcp", "", "MCP tool server: a command line to spawn or an http(s) endpoint")
	autocomplete := flag.Bool("autocomplete", false, "continue answers cut off by the output token budget")
	verbose := flag.Bool("verbose", false, "write debug logs to convoke.log")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *model, *mcpServer, *autocomplete, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, modelFlag, mcpServer string, autocomplete, verbose bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Config resolution: explicit flag → convoke.yaml → built-in defaults.
	var cfg engine.Config
	if resolved := resolveConfigPath(configPath); resolved != "" {
		var err error
		if cfg, err = engine.LoadConfig(resolved); err != nil {
			return err
		}
	}

	// Logs go to a file so they cannot corrupt the TUI.
	if verbose {
		logFile, err := os.OpenFile("convoke.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close() //nolint:errcheck // log file
		cfg.Logger = zerolog.New(logFile).With().Timestamp().Logger()
	}

	if err := engine.Configure(cfg); err != nil {
		return err
	}

	model, err := resolveModel(modelFlag, cfg)
	if err != nil {
		return err
	}

	client, err := engine.Get(model)
	if err != nil {
		return err
	}

	var tools toolCaller
	var decls messages.Tool
	if mcpServer != "" {
		src, err := connectMCP(ctx, mcpServer)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck // session teardown

		if decls, err = src.Declarations(ctx); err != nil {
			return err
		}
		tools = src
	}

	sess := newSession(client, tools, decls, autocomplete)

	p := tea.NewProgram(newAppModel(ctx, sess))
	_, err = p.Run()
	return err
}

// connectMCP attaches to the tool server named by the -mcp flag: an http(s)
// URL connects over SSE, anything else is run as a stdio server command.
func connectMCP(ctx context.Context, server string) (*mcptools.Source, error) {
	if strings.HasPrefix(server, "http://") || strings.HasPrefix(server, "https://") {
		return mcptools.ConnectSSE(ctx, server)
	}

	parts := strings.Fields(server)
	if len(parts) == 0 {
		return nil, fmt.Errorf("-mcp: empty server command")
	}
	return mcptools.Connect(ctx, parts[0], parts[1:]...)
}
