package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	pgcrud "github.com/rickchristie/postgres-crud-mcp"
	"github.com/rickchristie/postgres-crud-mcp/internal/meta"
)

func newDoctorCommand() *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and print MCP client snippets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doctor(cmd.Context(), os.Stderr, isTTY(os.Stderr.Fd()), afero.NewOsFs(), connect)
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "Also connect to the database and run a health check")
	return cmd
}

func doctor(ctx context.Context, w io.Writer, useColor bool, fs afero.Fs, connect bool) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "%s %s\n\n", meta.ServerName, meta.Version)

	config, ok := doctorValidateConfig(w, useColor, fs)
	if ok && connect {
		ok = doctorCheckDatabase(ctx, w, useColor, config)
	}
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'pgcrudmcp doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateConfig loads the configuration the way serve does, printing
// one check line per step.
func doctorValidateConfig(w io.Writer, useColor bool, fs afero.Fs) (*pgcrud.ServerConfig, bool) {
	exists, err := afero.Exists(fs, pgcrud.DotEnvFile)
	switch {
	case err != nil:
		printCheck(w, useColor, false, fmt.Sprintf("%s readable: %v", pgcrud.DotEnvFile, err))
		return nil, false
	case exists:
		printCheck(w, useColor, true, fmt.Sprintf("%s found", pgcrud.DotEnvFile))
	default:
		printCheck(w, useColor, true, fmt.Sprintf("No %s file, using environment and defaults", pgcrud.DotEnvFile))
	}

	config, err := pgcrud.LoadConfig(fs)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Configuration is valid: %v", err))
		return nil, false
	}
	printCheck(w, useColor, true, "Configuration is valid")

	printCheck(w, useColor, true, fmt.Sprintf("Database: %s@%s:%d/%s (sslmode=%s)",
		config.Connection.User, config.Connection.Host, config.Connection.Port,
		config.Connection.DBName, config.Connection.SSLMode))
	printCheck(w, useColor, true, fmt.Sprintf("Pool: %d connections + %d overflow, %ds pool timeout",
		config.Pool.PoolSize, config.Pool.MaxOverflow, config.Pool.PoolTimeoutSeconds))
	if config.Server.Transport == "http" {
		printCheck(w, useColor, true, fmt.Sprintf("Transport: http on port %d", config.Server.Port))
	} else {
		printCheck(w, useColor, true, "Transport: stdio")
	}
	if config.ReadOnly {
		printCheck(w, useColor, true, "Read-only mode: write tools are not registered")
	}
	if config.RulesFile != "" {
		printCheck(w, useColor, true, fmt.Sprintf("Rules file loaded (%s)", config.RulesFile))
	}
	return config, true
}

// doctorCheckDatabase opens a pool with the loaded configuration and runs
// the health check once.
func doctorCheckDatabase(ctx context.Context, w io.Writer, useColor bool, config *pgcrud.ServerConfig) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(config.Connection.ConnectTimeoutSeconds+5)*time.Second)
	defer cancel()

	p, err := pgcrud.New(ctx, config.Config, zerolog.Nop())
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Database reachable: %v", err))
		return false
	}
	defer p.Close()

	health := p.HealthCheck(ctx)
	if !health.Success {
		printCheck(w, useColor, false, fmt.Sprintf("Health check: %s", health.Error))
		return false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Database reachable (%dms)", health.LatencyMS))
	return true
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
		return
	}
	fmt.Fprintf(w, "  %s %s\n", mark, msg)
}

// agentClient describes where one MCP client keeps its server list and how it
// spells an entry.
type agentClient struct {
	title string
	// root is the top-level key holding the server map.
	root  string
	http  func(url string) map[string]any
	stdio func(command string, args []string) map[string]any
}

var agentClients = []agentClient{
	{
		title: "Claude Code (.mcp.json)",
		root:  "mcpServers",
		http:  func(url string) map[string]any { return map[string]any{"type": "http", "url": url} },
		stdio: func(c string, a []string) map[string]any { return map[string]any{"type": "stdio", "command": c, "args": a} },
	},
	{
		title: "Copilot CLI (~/.copilot/mcp-config.json)",
		root:  "mcpServers",
		http:  func(url string) map[string]any { return map[string]any{"type": "http", "url": url} },
		stdio: func(c string, a []string) map[string]any { return map[string]any{"type": "local", "command": c, "args": a} },
	},
	{
		title: "Gemini CLI (~/.gemini/settings.json)",
		root:  "mcpServers",
		http:  func(url string) map[string]any { return map[string]any{"httpUrl": url} },
		stdio: func(c string, a []string) map[string]any { return map[string]any{"command": c, "args": a} },
	},
	{
		title: "OpenCode (opencode.json)",
		root:  "mcp",
		http:  func(url string) map[string]any { return map[string]any{"type": "remote", "url": url} },
		stdio: func(c string, a []string) map[string]any {
			return map[string]any{"type": "local", "command": append([]string{c}, a...)}
		},
	},
	{
		title: "Cursor (.cursor/mcp.json)",
		root:  "mcpServers",
		http:  func(url string) map[string]any { return map[string]any{"url": url} },
		stdio: func(c string, a []string) map[string]any { return map[string]any{"command": c, "args": a} },
	},
	{
		title: "Windsurf (~/.codeium/windsurf/mcp_config.json)",
		root:  "mcpServers",
		http:  func(url string) map[string]any { return map[string]any{"serverUrl": url} },
		stdio: func(c string, a []string) map[string]any { return map[string]any{"command": c, "args": a} },
	},
}

// printAgentSnippets prints MCP client configuration for the configured
// transport. Stdio clients start the binary themselves, so they need the
// environment or a .env file in their working directory.
func printAgentSnippets(w io.Writer, useColor bool, config *pgcrud.ServerConfig) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	url := fmt.Sprintf("http://localhost:%d%s", config.Server.Port, mcpEndpoint)
	command, args := meta.ServerName, []string{"serve"}
	httpTransport := config.Server.Transport == "http"

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	subheading("Claude Code command")
	if httpTransport {
		fmt.Fprintf(w, "    claude mcp add --transport http postgres %s\n\n", url)
	} else {
		fmt.Fprintf(w, "    claude mcp add postgres -- %s serve\n\n", command)
	}

	for _, c := range agentClients {
		entry := c.stdio(command, args)
		if httpTransport {
			entry = c.http(url)
		}
		snippet := map[string]any{c.root: map[string]any{"postgres": entry}}
		data, err := json.MarshalIndent(snippet, "  ", "  ")
		if err != nil {
			continue
		}
		subheading(c.title)
		fmt.Fprintf(w, "  %s\n\n", data)
	}
}
